// Package pipeline collects the records of a run and persists them once, in
// the configured tabular format.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

var (
	// ErrSinkFlushed is returned when Append or Flush is called after the
	// records were already written.
	ErrSinkFlushed = errors.New("pipeline: sink already flushed")
)

// SinkError reports a failure to persist the collected records. The records
// are still held by the sink.
type SinkError struct {
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.Record) error
	Close() error
	Validate() error
}

// WriterFactory opens the output when the sink is flushed.
type WriterFactory func() (OutputWriter, error)

// Sink is the append-only accumulator shared by concurrent crawl sessions.
// Nothing touches the disk until Flush.
type Sink struct {
	path      string
	newWriter WriterFactory
	logger    logrus.FieldLogger

	mu         sync.Mutex
	records    []models.Record
	byCategory map[string]int
	flushed    bool
}

// NewSink builds a sink writing to path through newWriter.
func NewSink(path string, newWriter WriterFactory, logger logrus.FieldLogger) *Sink {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Sink{
		path:       path,
		newWriter:  newWriter,
		logger:     logger,
		byCategory: make(map[string]int),
	}
}

// NewSinkFromConfig picks the writer matching cfg.OutputFormat.
func NewSinkFromConfig(cfg *config.Config, logger logrus.FieldLogger) (*Sink, error) {
	factory, err := WriterFor(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return nil, err
	}
	return NewSink(cfg.OutputFile, factory, logger), nil
}

// WriterFor returns the factory for format ("csv", "json" or "dual").
func WriterFor(format, filename string) (WriterFactory, error) {
	switch strings.ToLower(format) {
	case "csv":
		return func() (OutputWriter, error) { return NewCSVWriter(filename) }, nil
	case "json":
		return func() (OutputWriter, error) { return NewJSONWriter(filename) }, nil
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return func() (OutputWriter, error) { return NewDualWriter(filename, jsonFilename) }, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Append adds records to the sink. Records appended after Flush are dropped
// and logged.
func (s *Sink) Append(records ...models.Record) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushed {
		s.logger.WithField("records", len(records)).WithError(ErrSinkFlushed).Error("records dropped")
		return
	}
	s.records = append(s.records, records...)
	for _, rec := range records {
		s.byCategory[rec.Category]++
	}
}

// Records returns a copy of the collected records in append order.
func (s *Sink) Records() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Count returns the number of collected records.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// CountByCategory returns how many records each category contributed.
func (s *Sink) CountByCategory() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.byCategory))
	for k, v := range s.byCategory {
		out[k] = v
	}
	return out
}

// Path returns the output location.
func (s *Sink) Path() string {
	return s.path
}

// Flush writes every collected record in a single pass, overwriting any
// previous file. A failed flush is not retried and can not be repeated.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushed {
		return &SinkError{Path: s.path, Err: ErrSinkFlushed}
	}
	s.flushed = true

	if err := s.write(); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"path":    s.path,
			"records": len(s.records),
		}).Error("output write failed, records kept in memory")
		return &SinkError{Path: s.path, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"records": len(s.records),
	}).Info("output written")
	return nil
}

func (s *Sink) write() error {
	if s.newWriter == nil {
		return fmt.Errorf("no output writer configured")
	}
	writer, err := s.newWriter()
	if err != nil {
		return err
	}
	if err := writer.Write(s.records); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return writer.Validate()
}
