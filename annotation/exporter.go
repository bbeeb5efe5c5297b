package annotation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-beauty/models"
)

const unknown = "Unknown"

// Source lists stored products.
type Source interface {
	Count(ctx context.Context) (int64, error)
	ForEach(ctx context.Context, fn func(models.StoredProduct) error) error
}

// TaskClient lists and imports annotation tasks.
type TaskClient interface {
	ListTasks(ctx context.Context) ([]RemoteTask, error)
	ImportTasks(ctx context.Context, tasks []Task) (int, error)
}

// SyncResult summarises one sync run.
type SyncResult struct {
	StoreTotal    int64
	AlreadySynced int
	Empty         int
	New           int
	Imported      int
	FailedBatches int
}

// BuildTask turns a stored product into an annotation task. It reports
// false when the product has no text worth annotating.
func BuildTask(p models.StoredProduct, syncedAt time.Time) (Task, bool) {
	var parts []string
	for _, part := range []string{p.DescriptionRaw, p.IngredientRaw, p.UsageTip} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return Task{}, false
	}

	return Task{
		Data: TaskData{
			Text:  strings.Join(parts, "\n\n"),
			Name:  orUnknown(p.Name),
			Brand: orUnknown(p.Brand),
		},
		Meta: TaskMeta{
			MongoDBID: p.ID,
			SyncedAt:  syncedAt.Format(time.RFC3339),
			URL:       p.URL,
			Price:     p.Price,
		},
	}, true
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

// Exporter copies products that are not yet in the annotation project.
type Exporter struct {
	source    Source
	client    TaskClient
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewExporter builds an Exporter that uploads batchSize tasks per request.
func NewExporter(source Source, client TaskClient, batchSize int, logger *zap.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		source:    source,
		client:    client,
		batchSize: batchSize,
		logger:    logger.Named("sync"),
		now:       time.Now,
	}
}

// Sync uploads every product whose store id is not recorded in an existing
// task. A failed batch is logged and counted; later batches still run. With
// dryRun set nothing is uploaded.
func (e *Exporter) Sync(ctx context.Context, dryRun bool) (*SyncResult, error) {
	remote, err := e.client.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing tasks: %w", err)
	}
	synced := make(map[string]struct{}, len(remote))
	for _, task := range remote {
		if id := task.StoreID(); id != "" {
			synced[id] = struct{}{}
		}
	}
	e.logger.Info("existing tasks", zap.Int("tasks", len(remote)), zap.Int("synced_ids", len(synced)))

	result := &SyncResult{}
	if total, err := e.source.Count(ctx); err != nil {
		e.logger.Warn("count stored products", zap.Error(err))
	} else {
		result.StoreTotal = total
	}

	syncedAt := e.now().UTC()
	var pending []Task
	err = e.source.ForEach(ctx, func(p models.StoredProduct) error {
		if _, ok := synced[p.ID]; ok {
			result.AlreadySynced++
			return nil
		}
		task, ok := BuildTask(p, syncedAt)
		if !ok {
			result.Empty++
			return nil
		}
		pending = append(pending, task)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read stored products: %w", err)
	}
	result.New = len(pending)

	e.logger.Info("sync plan",
		zap.Int64("stored", result.StoreTotal),
		zap.Int("new", result.New),
		zap.Int("already_synced", result.AlreadySynced),
		zap.Int("empty", result.Empty),
		zap.Bool("dry_run", dryRun),
	)
	if dryRun || len(pending) == 0 {
		return result, nil
	}

	for start, batchNo := 0, 1; start < len(pending); start, batchNo = start+e.batchSize, batchNo+1 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+e.batchSize, len(pending))
		batch := pending[start:end]

		n, err := e.client.ImportTasks(ctx, batch)
		if err != nil {
			result.FailedBatches++
			e.logger.Error("import batch", zap.Int("batch", batchNo), zap.Int("tasks", len(batch)), zap.Error(err))
			continue
		}
		result.Imported += n
		e.logger.Info("imported batch", zap.Int("batch", batchNo), zap.Int("tasks", n))
	}

	e.logger.Info("sync finished", zap.Int("imported", result.Imported), zap.Int("new", result.New), zap.Int("failed_batches", result.FailedBatches))
	return result, nil
}
