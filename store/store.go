// Package store holds the contract shared by the product store backends.
package store

import (
	"context"
	"errors"

	"github.com/aluiziolira/go-scrape-beauty/models"
)

// ErrMissingURL is returned for records without a url; they are never stored.
var ErrMissingURL = errors.New("product record has no url")

// ProductStore persists product records keyed by url.
type ProductStore interface {
	Upsert(ctx context.Context, record *models.ProductRecord) error
	Count(ctx context.Context) (int64, error)
	ForEach(ctx context.Context, fn func(models.StoredProduct) error) error
	Close() error
}
