package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/aluiziolira/go-scrape-beauty/annotation"
	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/pipeline"
)

const separator = "--------------------------------------------------"

func printCrawlSummary(w io.Writer, result *models.ScrapeResult, stats pipeline.Stats, stored int64, snapshotFile string) {
	duration := result.EndTime.Sub(result.StartTime)
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(stats.Persisted) / duration.Seconds()
	}
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Crawl complete")
	fmt.Fprintf(w, "  Listing pages: %d\n", result.ListingPages)
	fmt.Fprintf(w, "  Detail pages:  %d\n", result.DetailPages)
	fmt.Fprintf(w, "  Combos:        %d\n", result.ComboSkipped)
	fmt.Fprintf(w, "  Duplicates:    %d\n", result.Duplicates)
	fmt.Fprintf(w, "  Dropped:       %d\n", result.Dropped)
	fmt.Fprintf(w, "  Persisted:     %d\n", stats.Persisted)
	fmt.Fprintf(w, "  Upsert errors: %d\n", stats.Failed)
	if stored >= 0 {
		fmt.Fprintf(w, "  Stored total:  %d\n", stored)
	}
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %s\n", formatCounts(result.ErrorsByType))
	}
	for _, task := range result.FailedListing {
		fmt.Fprintf(w, "  Stopped:       %s at page %d\n", task.CategorySlug, task.Page)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Items/sec:     %.2f\n", itemsPerSec)
	if snapshotFile != "" {
		fmt.Fprintf(w, "  Snapshot:      %s\n", snapshotFile)
	}
	fmt.Fprintln(w, separator)
}

func printSyncSummary(w io.Writer, result *annotation.SyncResult, dryRun bool) {
	fmt.Fprintln(w, "\n"+separator)
	if dryRun {
		fmt.Fprintln(w, "Sync dry run")
	} else {
		fmt.Fprintln(w, "Sync complete")
	}
	fmt.Fprintf(w, "  Stored:         %d\n", result.StoreTotal)
	fmt.Fprintf(w, "  Already synced: %d\n", result.AlreadySynced)
	fmt.Fprintf(w, "  Without text:   %d\n", result.Empty)
	fmt.Fprintf(w, "  New:            %d\n", result.New)
	fmt.Fprintf(w, "  Imported:       %d/%d\n", result.Imported, result.New)
	if result.FailedBatches > 0 {
		fmt.Fprintf(w, "  Failed batches: %d\n", result.FailedBatches)
	}
	fmt.Fprintln(w, separator)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return out
}
