package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func sampleRecords(n int) []models.Record {
	records := make([]models.Record, 0, n)
	for i := 1; i <= n; i++ {
		rec := models.NewRecord()
		rec.Name = fmt.Sprintf("Piso \"Premium\", modelo %d", i)
		rec.Price = fmt.Sprintf("R$ %d,90", i)
		rec.URL = fmt.Sprintf("https://example.test/p/%d", i)
		if i%2 == 0 {
			rec.OriginalPrice = "R$ 199,90"
			rec.Discount = "-10%"
			rec.SKU = fmt.Sprintf("SKU-%d", i)
			rec.Availability = "Em estoque\nentrega rápida"
		}
		records = append(records, rec)
	}
	return records
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "produtos.csv")

	writer, err := NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Write(sampleRecords(1)))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Validate())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Nome", "Preco", "Preco_Original", "Desconto", "URL", "SKU", "Disponibilidade"}, rows[0])
	assert.Equal(t, models.NotAvailable, rows[1][2])
}

func TestCSVRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 25} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "produtos.csv")
			want := sampleRecords(n)

			writer, err := NewCSVWriter(path)
			require.NoError(t, err)
			require.NoError(t, writer.Write(want))
			require.NoError(t, writer.Close())

			got, err := ReadCSV(path)
			require.NoError(t, err)
			require.Len(t, got, n)
			for i := range want {
				assert.Equal(t, want[i], got[i])
			}
		})
	}
}

func TestCSVWriterOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "produtos.csv")

	for _, n := range []int{5, 2} {
		writer, err := NewCSVWriter(path)
		require.NoError(t, err)
		require.NoError(t, writer.Write(sampleRecords(n)))
		require.NoError(t, writer.Close())
	}

	got, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadCSVRejectsForeignHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.csv")
	require.NoError(t, os.WriteFile(path, []byte("title,price,rating,a,b,c,d\nx,1,2,a,b,c,d\n"), 0o644))

	_, err := ReadCSV(path)
	assert.ErrorContains(t, err, "unexpected csv header")
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "produtos.jsonl")
	want := sampleRecords(3)
	want[0].Category = "Pisos"

	writer, err := NewJSONWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Write(want))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Validate())

	got, err := ReadJSONL(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJSONWriterEmptyOutputIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")

	writer, err := NewJSONWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Write(nil))
	require.NoError(t, writer.Close())

	assert.NoError(t, writer.Validate())
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "produtos.csv")
	jsonPath := filepath.Join(dir, "produtos.jsonl")
	want := sampleRecords(4)

	writer, err := NewDualWriter(csvPath, jsonPath)
	require.NoError(t, err)
	require.NoError(t, writer.Write(want))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Validate())

	fromCSV, err := ReadCSV(csvPath)
	require.NoError(t, err)
	fromJSON, err := ReadJSONL(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, want, fromCSV)
	assert.Equal(t, want, fromJSON)
}
