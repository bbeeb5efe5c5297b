package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/models"
)

var csvHeader = []string{
	"url", "name", "brand", "price", "category", "rating",
	"ingredient_raw", "usage_tip", "description_raw",
	"volume", "made_from", "skin_type", "images",
}

// NewSnapshotWriter opens the snapshot sink configured by cfg.
func NewSnapshotWriter(cfg config.SnapshotConfig) (Sink, error) {
	switch cfg.Format {
	case "", "json":
		return NewJSONWriter(cfg.File)
	case "csv":
		return NewCSVWriter(cfg.File)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", cfg.Format)
	}
}

// CSVWriter appends records to a CSV file. Images are joined with "|".
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Upsert appends record as one CSV row.
func (cw *CSVWriter) Upsert(_ context.Context, record *models.ProductRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	row := []string{
		record.URL,
		record.Name,
		record.Brand,
		strconv.FormatFloat(record.Price, 'f', -1, 64),
		record.Category,
		strconv.FormatFloat(record.Rating, 'f', -1, 64),
		record.IngredientRaw,
		record.UsageTip,
		record.DescriptionRaw,
		record.Volume,
		record.MadeFrom,
		record.SkinType,
		strings.Join(record.Images, "|"),
	}
	if err := cw.writer.Write(row); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Upsert appends record as one JSON line.
func (jw *JSONWriter) Upsert(_ context.Context, record *models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode json record: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
