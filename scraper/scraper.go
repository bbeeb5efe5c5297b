// Package scraper drives the catalog crawl: it plans listing and detail
// requests with a Traverser and executes them on a colly collector.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/parser"
)

const (
	fetchKey = "fetch"
	startKey = "start"
)

// ErrAlreadyRun is returned by Run on a Scraper that has already crawled.
var ErrAlreadyRun = errors.New("scraper already run")

// Processor receives every assembled product record. It may return
// models.ErrProcessorClosed once it no longer accepts records; the scraper
// does not log that error.
type Processor interface {
	Process(ctx context.Context, record *models.ProductRecord) error
}

// Scraper wraps the colly collector and the traversal for one catalog. A
// Scraper runs once; build a new one for every crawl.
type Scraper struct {
	cfg       config.CrawlerConfig
	traverser *Traverser
	collector *colly.Collector
	retry     *retryManager
	seen      *lru.Cache[string, struct{}]
	logger    *zap.Logger
	Metrics   *Metrics

	requestCount int64
	errorCount   int64
	listingPages int64
	detailPages  int64
	comboSkipped int64
	dropped      int64
	duplicates   int64

	mu            sync.Mutex
	failedURLs    []string
	errorsByType  map[string]int
	failedListing []models.CrawlTask

	started atomic.Bool
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg config.CrawlerConfig, logger *zap.Logger) (*Scraper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	traverser, err := NewTraverser(cfg)
	if err != nil {
		return nil, err
	}

	domains, err := allowedDomains(cfg.ListingURL, cfg.DetailURL)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
		// Detail dedupe is handled by the bounded seen cache.
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		traverser:    traverser,
		collector:    collector,
		seen:         seen,
		logger:       logger.Named("scraper"),
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	s.retry = newRetryManager(cfg, s.Metrics, s.logger)
	return s, nil
}

func allowedDomains(rawURLs ...string) ([]string, error) {
	seen := make(map[string]struct{}, len(rawURLs))
	domains := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", raw, err)
		}
		if parsed.Hostname() == "" {
			return nil, fmt.Errorf("endpoint %q must include a host", raw)
		}
		if _, ok := seen[parsed.Hostname()]; ok {
			continue
		}
		seen[parsed.Hostname()] = struct{}{}
		domains = append(domains, parsed.Hostname())
	}
	return domains, nil
}

// Run crawls every category in slugs and hands assembled records to p.
// It returns once all requests, retries included, have completed or ctx is
// cancelled.
func (s *Scraper) Run(ctx context.Context, p Processor, slugs []string) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(slugs) == 0 {
		return nil, errors.New("no categories to crawl")
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, p)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	for req := range s.traverser.Start(slugs) {
		s.dispatch(ctx, req)
	}

	// Retries are scheduled from error callbacks, so the collector can go
	// idle while a retry is still waiting on its backoff timer.
	for {
		s.collector.Wait()
		if !s.retry.Pending() {
			break
		}
		s.retry.Wait()
	}
	s.retry.Stop()

	return s.result(start), nil
}

func (s *Scraper) result(start time.Time) *models.ScrapeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	failedURLs := make([]string, len(s.failedURLs))
	copy(failedURLs, s.failedURLs)
	errorsByType := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		errorsByType[k] = v
	}
	failedListing := make([]models.CrawlTask, len(s.failedListing))
	copy(failedListing, s.failedListing)

	return &models.ScrapeResult{
		StartTime:     start,
		EndTime:       time.Now(),
		RequestCount:  int(atomic.LoadInt64(&s.requestCount)),
		ErrorCount:    int(atomic.LoadInt64(&s.errorCount)),
		RetryCount:    s.retry.TotalRetries(),
		ListingPages:  int(atomic.LoadInt64(&s.listingPages)),
		DetailPages:   int(atomic.LoadInt64(&s.detailPages)),
		ComboSkipped:  int(atomic.LoadInt64(&s.comboSkipped)),
		Dropped:       int(atomic.LoadInt64(&s.dropped)),
		Duplicates:    int(atomic.LoadInt64(&s.duplicates)),
		FailedURLs:    failedURLs,
		ErrorsByType:  errorsByType,
		FailedListing: failedListing,
	}
}

// dispatch issues req with its FetchRequest stored in the request context.
func (s *Scraper) dispatch(ctx context.Context, req FetchRequest) {
	if ctx.Err() != nil {
		return
	}
	// The same product can be listed under several categories; fetch its
	// detail once per run while it stays in the cache.
	if req.Kind == KindDetail {
		if found, _ := s.seen.ContainsOrAdd(req.URL, struct{}{}); found {
			atomic.AddInt64(&s.duplicates, 1)
			s.logger.Debug("detail already requested", requestFields(req)...)
			return
		}
	}
	cctx := colly.NewContext()
	cctx.Put(fetchKey, req)

	err := s.collector.Request(http.MethodGet, req.URL, nil, cctx, http.Header{"Accept": []string{"application/json"}})
	if err == nil {
		return
	}
	s.logger.Error("dispatch request", append(requestFields(req), zap.Error(err))...)
	s.recordFailure(req, err)
}

func (s *Scraper) configureHandlers(ctx context.Context, p Processor) {
	s.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(startKey, time.Now())
		current := atomic.AddInt64(&s.requestCount, 1)
		kind := "unknown"
		if req, ok := r.Ctx.GetAny(fetchKey).(FetchRequest); ok {
			kind = req.Kind.String()
		}
		s.Metrics.IncRequest(kind)
		if current%50 == 0 {
			s.logger.Debug("scraper request progress",
				zap.Int64("requests", current),
				zap.Int64("listing_pages", atomic.LoadInt64(&s.listingPages)),
				zap.Int64("detail_pages", atomic.LoadInt64(&s.detailPages)),
				zap.String("url", r.URL.String()),
			)
		}
	})

	s.collector.OnResponse(func(r *colly.Response) {
		req, ok := r.Ctx.GetAny(fetchKey).(FetchRequest)
		if !ok {
			s.logger.Warn("response without fetch context", zap.String("url", r.Request.URL.String()))
			return
		}
		if start, ok := r.Ctx.GetAny(startKey).(time.Time); ok {
			s.Metrics.ObserveDuration(req.Kind.String(), time.Since(start))
		}
		switch req.Kind {
		case KindListing:
			s.handleListing(ctx, req, r.Body)
		case KindDetail:
			s.handleDetail(ctx, p, req, r.Body)
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		rawURL := ""
		var req FetchRequest
		var request *colly.Request
		if r != nil {
			statusCode = r.StatusCode
			request = r.Request
			if r.Request != nil && r.Request.URL != nil {
				rawURL = r.Request.URL.String()
			}
			if r.Ctx != nil {
				req, _ = r.Ctx.GetAny(fetchKey).(FetchRequest)
			}
		}
		fe := classifyError(err, statusCode, rawURL)
		if fe == nil {
			fe = &FetchError{Type: TypeOther, URL: rawURL, Err: errors.New("request failed without error")}
		}

		if retryable(fe) && request != nil && s.retry.Schedule(request) {
			s.logger.Warn("request failed, retry scheduled",
				append(requestFields(req), zap.String("error_type", fe.Type), zap.Int("status", statusCode), zap.Error(err))...)
			return
		}
		s.logger.Error("request failed",
			append(requestFields(req), zap.String("error_type", fe.Type), zap.Int("status", statusCode), zap.Error(err))...)
		s.recordFailure(req, fe)
	})
}

func (s *Scraper) handleListing(ctx context.Context, req FetchRequest, body []byte) {
	atomic.AddInt64(&s.listingPages, 1)
	s.Metrics.IncListingPage(req.Task.CategorySlug)

	outcome, err := s.traverser.HandleListing(req.Task, body)
	if err != nil {
		s.logger.Error("parse listing, category traversal stopped",
			append(requestFields(req), zap.Error(err))...)
		s.recordFailure(req, classifyError(err, 0, req.URL))
		return
	}

	s.logger.Info("listing page",
		zap.String("category", req.Task.CategorySlug),
		zap.Int("page", req.Task.Page),
		zap.Int("products", outcome.Products),
		zap.Int("combos", outcome.Combos),
		zap.Bool("has_next", outcome.Next != nil),
	)
	if outcome.Combos > 0 {
		atomic.AddInt64(&s.comboSkipped, int64(outcome.Combos))
		s.Metrics.AddCombos(outcome.Combos)
	}
	for _, entry := range outcome.Skipped {
		s.logger.Warn("listing entry without product id",
			zap.String("category", req.Task.CategorySlug),
			zap.Int("page", req.Task.Page),
			zap.String("name", entry.Name),
		)
	}

	for _, detail := range outcome.Details {
		s.dispatch(ctx, detail)
	}
	if outcome.Next != nil {
		s.dispatch(ctx, *outcome.Next)
	}
}

func (s *Scraper) handleDetail(ctx context.Context, p Processor, req FetchRequest, body []byte) {
	atomic.AddInt64(&s.detailPages, 1)

	record, err := s.traverser.HandleDetail(req.Meta, body)
	if err != nil {
		reason := "assemble"
		if errors.Is(err, parser.ErrInvalidDetail) {
			reason = "parse"
		}
		atomic.AddInt64(&s.dropped, 1)
		s.Metrics.IncDropped(reason)
		s.logger.Error("drop product",
			append(requestFields(req), zap.String("reason", reason), zap.Error(err))...)
		return
	}

	s.Metrics.IncItems()
	if err := p.Process(ctx, record); err != nil && !errors.Is(err, models.ErrProcessorClosed) {
		s.logger.Error("pipeline process error",
			append(requestFields(req), zap.String("product_url", record.URL), zap.Error(err))...)
	}
}

// recordFailure books a request that will not be retried. A failed listing
// request ends its category; a failed detail request drops one product.
func (s *Scraper) recordFailure(req FetchRequest, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	errType := errorTypeLabel(err)
	s.Metrics.IncError(errType)

	s.mu.Lock()
	s.errorsByType[errType]++
	if req.URL != "" {
		s.failedURLs = append(s.failedURLs, req.URL)
	}
	if req.Kind == KindListing {
		s.failedListing = append(s.failedListing, req.Task)
	}
	s.mu.Unlock()

	if req.Kind == KindDetail {
		atomic.AddInt64(&s.dropped, 1)
		s.Metrics.IncDropped("fetch")
	}
}

func requestFields(req FetchRequest) []zap.Field {
	fields := []zap.Field{zap.Stringer("kind", req.Kind), zap.String("url", req.URL)}
	switch req.Kind {
	case KindListing:
		fields = append(fields, zap.String("category", req.Task.CategorySlug), zap.Int("page", req.Task.Page))
	case KindDetail:
		fields = append(fields, zap.String("product_id", req.Meta.ProductID), zap.String("category", req.Meta.CategorySlug))
	}
	return fields
}

type retryTimer struct {
	timer   *time.Timer
	attempt int
}

type retryManager struct {
	cfg     config.CrawlerConfig
	metrics *Metrics
	logger  *zap.Logger
	ctx     context.Context

	pending sync.WaitGroup

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]retryTimer
	inFlight     int
	totalRetries int
	stopped      bool
}

func newRetryManager(cfg config.CrawlerConfig, metrics *Metrics, logger *zap.Logger) *retryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryManager{
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		attempts: make(map[string]int),
		timers:   make(map[string]retryTimer),
		ctx:      context.Background(),
	}
}

// Schedule re-issues req after a backoff. It reports false when the retry
// budget for the URL is exhausted or the manager has stopped.
func (rm *retryManager) Schedule(req *colly.Request) bool {
	if rm.cfg.MaxRetries == 0 || req == nil || req.URL == nil {
		return false
	}
	key := req.URL.String()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}
	attempt := rm.attempts[key]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[key] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	// Every scheduled retry is released exactly once: by whoever stops its
	// timer, otherwise by fire. A newer retry for the same URL replaces the
	// waiting one.
	if prev, ok := rm.timers[key]; ok && prev.timer.Stop() {
		rm.inFlight--
		rm.pending.Done()
	}
	rm.pending.Add(1)
	rm.inFlight++
	rm.timers[key] = retryTimer{
		attempt: attempt,
		timer: time.AfterFunc(rm.backoff(attempt), func() {
			rm.fire(key, attempt, req)
		}),
	}
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) fire(key string, attempt int, req *colly.Request) {
	rm.mu.Lock()
	if cur, ok := rm.timers[key]; ok && cur.attempt == attempt {
		delete(rm.timers, key)
	}
	skip := rm.stopped || rm.ctx.Err() != nil
	rm.mu.Unlock()

	if !skip {
		if err := req.Retry(); err != nil {
			rm.logger.Debug("retry request failed", zap.String("url", key), zap.Error(err))
		}
	}
	rm.release()
}

func (rm *retryManager) release() {
	rm.mu.Lock()
	rm.inFlight--
	rm.mu.Unlock()
	rm.pending.Done()
}

// Pending reports whether any retry is waiting on its timer.
func (rm *retryManager) Pending() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.inFlight > 0
}

// Wait blocks until every scheduled retry has fired or been cancelled.
func (rm *retryManager) Wait() {
	rm.pending.Wait()
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	rm.stopped = true
	cancelled := 0
	for key, rt := range rm.timers {
		if rt.timer.Stop() {
			cancelled++
		}
		delete(rm.timers, key)
	}
	rm.mu.Unlock()

	for i := 0; i < cancelled; i++ {
		rm.release()
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
