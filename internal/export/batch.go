// Package export builds training batches from verified feedback.
package export

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/aura/internal/domain"
)

// ContentType of a serialized batch.
const ContentType = "text/csv"

// keyLayout renders YYYY-MM-DD-HH-MM-SS.
const keyLayout = "2006-01-02-15-04-05"

// Header is the first row of every batch: the label column, then the
// model inputs in scoring order.
var Header = append([]string{domain.ColumnClass}, domain.FeatureColumns...)

// Batch is a point-in-time snapshot of verified records.
type Batch struct {
	ID      string
	Records []domain.VerifiedRecord
}

// NewBatch snapshots records under a fresh batch id.
func NewBatch(records []domain.VerifiedRecord) *Batch {
	snapshot := make([]domain.VerifiedRecord, len(records))
	copy(snapshot, records)
	return &Batch{ID: uuid.New().String(), Records: snapshot}
}

// Len returns the number of rows, excluding the header.
func (b *Batch) Len() int {
	return len(b.Records)
}

// Key returns the object key for the batch written at now below prefix.
// The batch id keeps keys of batches written in the same second apart.
func (b *Batch) Key(prefix string, now time.Time) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	name := "verified-data-" + now.UTC().Format(keyLayout)
	if id := b.ID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		name += "-" + id
	}
	return prefix + name + ".csv"
}

// WriteCSV writes the header and one row per record.
func (b *Batch) WriteCSV(w *csv.Writer) error {
	if err := w.Write(Header); err != nil {
		return err
	}

	row := make([]string, len(Header))
	for _, rec := range b.Records {
		row[0] = strconv.Itoa(rec.Label)
		for i, v := range rec.Features.Values() {
			row[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// Bytes serializes the batch.
func (b *Batch) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteCSV(csv.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
