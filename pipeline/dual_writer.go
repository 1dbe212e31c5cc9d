package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

type namedWriter struct {
	format string
	OutputWriter
}

// DualWriter fans the same records out to a CSV file and a JSONL file.
type DualWriter struct {
	outputs []namedWriter
}

// NewDualWriter opens both targets; the CSV file is closed again if the
// JSONL file cannot be created.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvOut, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("open csv output: %w", err)
	}
	jsonOut, err := NewJSONWriter(jsonFilename)
	if err != nil {
		_ = csvOut.Close()
		return nil, fmt.Errorf("open json output: %w", err)
	}

	return &DualWriter{outputs: []namedWriter{
		{format: "csv", OutputWriter: csvOut},
		{format: "json", OutputWriter: jsonOut},
	}}, nil
}

// Write stops at the first target that fails.
func (dw *DualWriter) Write(records []models.Record) error {
	for _, out := range dw.outputs {
		if err := out.Write(records); err != nil {
			return fmt.Errorf("%s output: %w", out.format, err)
		}
	}
	return nil
}

func (dw *DualWriter) Close() error {
	return dw.each(func(w OutputWriter) error { return w.Close() })
}

func (dw *DualWriter) Validate() error {
	return dw.each(func(w OutputWriter) error { return w.Validate() })
}

func (dw *DualWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for _, out := range dw.outputs {
		if err := fn(out.OutputWriter); err != nil {
			errs = append(errs, fmt.Errorf("%s output: %w", out.format, err))
		}
	}
	return errors.Join(errs...)
}
