// Package models defines data structures for the scraper.
package models

import (
	"errors"
	"time"
)

// ErrProcessorClosed is returned by a record processor that no longer
// accepts records.
var ErrProcessorClosed = errors.New("processor closed")

// ProductRecord is the normalized unit persisted for every catalog product.
// URL is the natural key.
type ProductRecord struct {
	URL            string   `csv:"url" json:"url"`
	Name           string   `csv:"name" json:"name"`
	Brand          string   `csv:"brand" json:"brand"`
	Price          float64  `csv:"price" json:"price"`
	Category       string   `csv:"category" json:"category"`
	Rating         float64  `csv:"rating" json:"rating"`
	IngredientRaw  string   `csv:"ingredient_raw" json:"ingredient_raw"`
	UsageTip       string   `csv:"usage_tip" json:"usage_tip"`
	DescriptionRaw string   `csv:"description_raw" json:"description_raw"`
	Volume         string   `csv:"volume" json:"volume"`
	MadeFrom       string   `csv:"made_from" json:"made_from"`
	SkinType       string   `csv:"skin_type" json:"skin_type"`
	Images         []string `csv:"images" json:"images"`
}

// StoredProduct is a ProductRecord together with the id assigned by the store.
type StoredProduct struct {
	ID string
	ProductRecord
}

// CrawlTask identifies one listing page of one category.
type CrawlTask struct {
	CategorySlug string
	Page         int
}

// ListingMeta is the listing-level data carried from a listing entry to the
// matching detail response.
type ListingMeta struct {
	Name         string
	Brand        string
	Price        float64
	ProductID    string
	CategorySlug string
}

// ScrapeResult holds the overall result of a crawl run.
type ScrapeResult struct {
	StartTime     time.Time
	EndTime       time.Time
	RequestCount  int
	ErrorCount    int
	RetryCount    int
	ListingPages  int
	DetailPages   int
	ComboSkipped  int
	Dropped       int
	Duplicates    int
	FailedURLs    []string
	ErrorsByType  map[string]int
	FailedListing []CrawlTask
}
