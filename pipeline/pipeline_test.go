package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]models.Record
	closed      bool
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(records []models.Record) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	batch := make([]models.Record, len(records))
	copy(batch, records)
	mw.batches = append(mw.batches, batch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) factory() WriterFactory {
	return func() (OutputWriter, error) { return mw, nil }
}

func TestSinkConcurrentAppendSingleWrite(t *testing.T) {
	writer := &mockWriter{}
	sink := NewSink("memory", writer.factory(), nil)

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rec := models.NewRecord()
				rec.Category = fmt.Sprintf("cat-%d", c)
				rec.Name = fmt.Sprintf("item %d", i)
				sink.Append(rec)
			}
		}(c)
	}
	wg.Wait()

	require.NoError(t, sink.Flush())

	assert.Equal(t, 400, sink.Count())
	require.Len(t, writer.batches, 1, "records are written in one pass")
	assert.Len(t, writer.batches[0], 400)
	assert.True(t, writer.closed)
	byCategory := sink.CountByCategory()
	assert.Len(t, byCategory, 8)
	assert.Equal(t, 50, byCategory["cat-3"])
}

func TestSinkKeepsAppendOrder(t *testing.T) {
	sink := NewSink("memory", (&mockWriter{}).factory(), nil)
	records := sampleRecords(3)

	sink.Append(records[0])
	sink.Append(records[1:]...)
	sink.Append()

	assert.Equal(t, records, sink.Records())
}

func TestSinkWriteFailureKeepsRecords(t *testing.T) {
	writeErr := errors.New("disk full")
	writer := &mockWriter{writeErr: writeErr}
	sink := NewSink("produtos.csv", writer.factory(), nil)
	sink.Append(sampleRecords(2)...)

	err := sink.Flush()

	var sinkErr *SinkError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, "produtos.csv", sinkErr.Path)
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 2, sink.Count(), "records stay in memory")
	assert.True(t, writer.closed)
}

func TestSinkFactoryFailure(t *testing.T) {
	sink := NewSink("x", func() (OutputWriter, error) { return nil, errors.New("permission denied") }, nil)
	sink.Append(sampleRecords(1)...)

	err := sink.Flush()

	var sinkErr *SinkError
	assert.True(t, errors.As(err, &sinkErr))
	assert.ErrorContains(t, err, "permission denied")
}

func TestSinkValidationFailure(t *testing.T) {
	writer := &mockWriter{validateErr: errors.New("csv file is empty")}
	sink := NewSink("x", writer.factory(), nil)

	err := sink.Flush()

	assert.ErrorContains(t, err, "csv file is empty")
}

func TestSinkFlushOnce(t *testing.T) {
	writer := &mockWriter{}
	sink := NewSink("x", writer.factory(), nil)
	sink.Append(sampleRecords(1)...)
	require.NoError(t, sink.Flush())

	err := sink.Flush()
	assert.ErrorIs(t, err, ErrSinkFlushed)

	sink.Append(sampleRecords(2)...)
	assert.Equal(t, 1, sink.Count(), "appends after flush are dropped")
	assert.Len(t, writer.batches, 1)
}

func TestNewSinkFromConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		format string
		files  []string
	}{
		{format: "csv", files: []string{"produtos.csv"}},
		{format: "json", files: []string{"produtos.csv"}},
		{format: "dual", files: []string{"produtos.csv", "produtos.jsonl"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.OutputFormat = tt.format
			cfg.OutputFile = filepath.Join(dir, tt.format, "produtos.csv")

			sink, err := NewSinkFromConfig(cfg, nil)
			require.NoError(t, err)
			sink.Append(sampleRecords(3)...)
			require.NoError(t, sink.Flush())

			for _, name := range tt.files {
				info, err := os.Stat(filepath.Join(dir, tt.format, name))
				require.NoError(t, err)
				assert.Positive(t, info.Size())
			}
		})
	}

	cfg := config.DefaultConfig()
	cfg.OutputFormat = "xml"
	_, err := NewSinkFromConfig(cfg, nil)
	assert.Error(t, err)
}

func TestSinkCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "produtos.csv")
	factory, err := WriterFor("csv", path)
	require.NoError(t, err)
	sink := NewSink(path, factory, nil)
	want := sampleRecords(10)
	sink.Append(want...)

	require.NoError(t, sink.Flush())

	got, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
