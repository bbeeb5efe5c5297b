package scraper

import (
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/parser"
)

// FetchKind distinguishes listing requests from detail requests.
type FetchKind int

const (
	KindListing FetchKind = iota + 1
	KindDetail
)

func (k FetchKind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// FetchRequest is one request planned by the Traverser. Task is set for
// listing requests and Meta for detail requests.
type FetchRequest struct {
	Kind FetchKind
	URL  string
	Task models.CrawlTask
	Meta models.ListingMeta
}

// ListingOutcome is what one listing response produced.
type ListingOutcome struct {
	Products int
	Combos   int
	Skipped  []parser.ListingEntry // entries without an id
	Details  []FetchRequest
	Next     *FetchRequest
}

// Traverser plans the category → page → detail request graph. It holds no
// per-run state and is safe for concurrent use.
type Traverser struct {
	listingURL *url.URL
	detailURL  *url.URL
	pageSize   int
	maxPages   int
	formKey    string
}

// NewTraverser builds a Traverser for the configured endpoints.
func NewTraverser(cfg config.CrawlerConfig) (*Traverser, error) {
	listing, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	detail, err := url.Parse(cfg.DetailURL)
	if err != nil {
		return nil, fmt.Errorf("parse detail url: %w", err)
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive")
	}
	return &Traverser{
		listingURL: listing,
		detailURL:  detail,
		pageSize:   cfg.PageSize,
		maxPages:   cfg.MaxPages,
		formKey:    cfg.FormKey,
	}, nil
}

// Start yields the first listing request of every category.
func (t *Traverser) Start(slugs []string) iter.Seq[FetchRequest] {
	return func(yield func(FetchRequest) bool) {
		for _, slug := range slugs {
			if !yield(t.ListingRequest(models.CrawlTask{CategorySlug: slug, Page: 1})) {
				return
			}
		}
	}
}

// ListingRequest builds the listing request for task.
func (t *Traverser) ListingRequest(task models.CrawlTask) FetchRequest {
	params := url.Values{}
	params.Set("cate_path", task.CategorySlug)
	params.Set("size", strconv.Itoa(t.pageSize))
	params.Set("page", strconv.Itoa(task.Page))
	params.Set("has_meta_data", "1")
	params.Set("is_desktop", "1")
	params.Set("form_key", t.formKey)

	u := *t.listingURL
	u.RawQuery = params.Encode()
	return FetchRequest{Kind: KindListing, URL: u.String(), Task: task}
}

// DetailRequest builds the detail request that carries meta to its response.
func (t *Traverser) DetailRequest(meta models.ListingMeta) FetchRequest {
	params := url.Values{}
	params.Set("product_id", meta.ProductID)
	params.Set("is_desktop", "1")

	u := *t.detailURL
	u.RawQuery = params.Encode()
	return FetchRequest{Kind: KindDetail, URL: u.String(), Meta: meta}
}

// HandleListing turns one listing response into detail requests and, while
// the page ceiling has not been reached and the page was not empty, the
// request for the next page. A body that cannot be parsed ends the category.
func (t *Traverser) HandleListing(task models.CrawlTask, body []byte) (ListingOutcome, error) {
	entries, err := parser.ParseListing(body)
	if err != nil {
		return ListingOutcome{}, fmt.Errorf("category %s page %d: %w", task.CategorySlug, task.Page, err)
	}

	outcome := ListingOutcome{Products: len(entries)}
	for _, entry := range entries {
		if parser.IsCombo(entry.Name) {
			outcome.Combos++
			continue
		}
		if entry.ID == "" {
			outcome.Skipped = append(outcome.Skipped, entry)
			continue
		}
		outcome.Details = append(outcome.Details, t.DetailRequest(models.ListingMeta{
			Name:         entry.Name,
			Brand:        entry.Brand,
			Price:        entry.Price,
			ProductID:    entry.ID,
			CategorySlug: task.CategorySlug,
		}))
	}

	if len(entries) > 0 && task.Page < t.maxPages {
		next := t.ListingRequest(models.CrawlTask{CategorySlug: task.CategorySlug, Page: task.Page + 1})
		outcome.Next = &next
	}
	return outcome, nil
}

// HandleDetail parses a detail response and assembles the product record.
func (t *Traverser) HandleDetail(meta models.ListingMeta, body []byte) (*models.ProductRecord, error) {
	blocks, err := parser.ParseDetail(body)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", meta.ProductID, err)
	}
	return parser.Assemble(meta, parser.ExtractDetail(blocks))
}
