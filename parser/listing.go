package parser

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidListing is returned when a listing body is not a JSON document.
var ErrInvalidListing = errors.New("invalid listing payload")

// ErrInvalidDetail is returned when a detail body is not a JSON document.
var ErrInvalidDetail = errors.New("invalid detail payload")

// ListingEntry is one abbreviated product from a listing page.
type ListingEntry struct {
	ID    string
	Name  string
	Brand string
	Price float64
}

type listingEnvelope struct {
	Data struct {
		Products []json.RawMessage `json:"products"`
	} `json:"data"`
}

// ParseListing decodes a listing response body of the form
// {data: {products: [{id, name, brand: {name}, price}, ...]}}.
// Entries that are not objects are skipped; a body that is not valid JSON
// yields ErrInvalidListing.
func ParseListing(body []byte) ([]ListingEntry, error) {
	var envelope listingEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidListing, err)
	}

	entries := make([]ListingEntry, 0, len(envelope.Data.Products))
	for _, raw := range envelope.Data.Products {
		product, ok := asObject(raw)
		if !ok {
			continue
		}
		entries = append(entries, ListingEntry{
			ID:    asString(product["id"]),
			Name:  asString(product["name"]),
			Brand: brandName(product["brand"]),
			Price: asFloat(product["price"]),
		})
	}
	return entries, nil
}

// brandName accepts both {"name": "..."} and a bare string.
func brandName(raw json.RawMessage) string {
	if obj, ok := asObject(raw); ok {
		return asString(obj["name"])
	}
	return asString(raw)
}

type detailEnvelope struct {
	Data struct {
		Blocks json.RawMessage `json:"blocks"`
	} `json:"data"`
}

// ParseDetail decodes a detail response body and returns its raw blocks.
func ParseDetail(body []byte) ([]json.RawMessage, error) {
	var envelope detailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDetail, err)
	}
	return asArray(envelope.Data.Blocks), nil
}
