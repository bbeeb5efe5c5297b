package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-beauty/annotation"
	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/pipeline"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlRejectsInvalidFlags(t *testing.T) {
	_, err := executeRoot(t, "crawl", "--dry-run", "--pages", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max pages must be positive")
}

func TestCrawlRequiresStoreWithoutDryRun(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CRAWLER_STORE_DSN", "")

	_, err := executeRoot(t, "crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store dsn is required")
}

func TestCrawlRejectsUnknownSnapshotFormat(t *testing.T) {
	_, err := executeRoot(t, "crawl", "--dry-run", "--snapshot", "out.xml", "--snapshot-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot format")
}

func TestSyncRequiresLabelStudio(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/beauty")
	t.Setenv("LABEL_STUDIO_URL", "")
	t.Setenv("CRAWLER_LABELSTUDIO_URL", "")

	_, err := executeRoot(t, "sync", "--batch-size", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label studio url is required")
}

func TestPrintCrawlSummary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result := &models.ScrapeResult{
		StartTime:     start,
		EndTime:       start.Add(2 * time.Second),
		RequestCount:  10,
		ErrorCount:    1,
		ListingPages:  3,
		DetailPages:   7,
		ComboSkipped:  2,
		ErrorsByType:  map[string]int{"parse": 1, "not_found": 2},
		FailedListing: []models.CrawlTask{{CategorySlug: "mat-na-c30", Page: 2}},
	}

	out := &bytes.Buffer{}
	printCrawlSummary(out, result, pipeline.Stats{Persisted: 6, Failed: 1}, 42, "")

	text := out.String()
	assert.Contains(t, text, "Persisted:     6")
	assert.Contains(t, text, "Stored total:  42")
	assert.Contains(t, text, "Success rate:  90.00%")
	assert.Contains(t, text, "Error types:   not_found=2 parse=1")
	assert.Contains(t, text, "mat-na-c30 at page 2")
	assert.Contains(t, text, "Items/sec:     3.00")
	assert.False(t, strings.Contains(text, "Snapshot:"))
}

func TestPrintSyncSummary(t *testing.T) {
	out := &bytes.Buffer{}
	printSyncSummary(out, &annotation.SyncResult{StoreTotal: 5, AlreadySynced: 2, Empty: 1, New: 2, Imported: 1, FailedBatches: 1}, false)

	text := out.String()
	assert.Contains(t, text, "Sync complete")
	assert.Contains(t, text, "Imported:       1/2")
	assert.Contains(t, text, "Failed batches: 1")
}
