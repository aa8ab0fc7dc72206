package rules

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

// SourceConfig marks thresholds taken from configured fallback values.
const SourceConfig = "config"

// ComputeThresholds derives the threshold set from a historical CSV with a
// header row containing V4 and V14 columns.
func ComputeThresholds(r io.Reader, cfg domain.RulesConfig) (*domain.Thresholds, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	v4Idx, v14Idx := -1, -1
	for i, name := range header {
		switch strings.Trim(strings.TrimSpace(name), `"`) {
		case "V4":
			v4Idx = i
		case "V14":
			v14Idx = i
		}
	}
	if v4Idx < 0 || v14Idx < 0 {
		return nil, errors.New("historical data must contain V4 and V14 columns")
	}

	var v4, v14 []float64
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a, err := parseCell(rec, v4Idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: V4: %w", line, err)
		}
		b, err := parseCell(rec, v14Idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: V14: %w", line, err)
		}
		v4 = append(v4, a)
		v14 = append(v14, b)
	}
	if len(v4) == 0 {
		return nil, errors.New("historical data has no rows")
	}

	return &domain.Thresholds{
		V4Upper:     Quantile(v4, cfg.V4Quantile),
		V14Lower:    Quantile(v14, cfg.V14Quantile),
		AmountUpper: cfg.AmountUpper,
		ComputedAt:  time.Now().UTC(),
	}, nil
}

func parseCell(rec []string, idx int) (float64, error) {
	if idx >= len(rec) {
		return 0, errors.New("missing value")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value must be finite")
	}
	return v, nil
}

// Quantile returns the q-th quantile of values using linear interpolation
// between the closest ranks. values is sorted in place.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	q = math.Max(0, math.Min(1, q))

	pos := q * float64(len(values)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return values[lo]
	}
	return values[lo] + (values[hi]-values[lo])*(pos-float64(lo))
}

// FallbackThresholds builds the threshold set from configured values.
func FallbackThresholds(cfg domain.RulesConfig) *domain.Thresholds {
	return &domain.Thresholds{
		V4Upper:     cfg.FallbackV4Upper,
		V14Lower:    cfg.FallbackV14Lower,
		AmountUpper: cfg.AmountUpper,
		Source:      SourceConfig,
		ComputedAt:  time.Now().UTC(),
	}
}

// ThresholdHolder publishes the current threshold set. Readers get an
// immutable snapshot; a reload builds a new set and swaps the pointer.
type ThresholdHolder struct {
	cfg     domain.RulesConfig
	current atomic.Pointer[domain.Thresholds]
}

// NewThresholdHolder starts with the fallback thresholds. Call Reload to
// compute from historical data.
func NewThresholdHolder(cfg domain.RulesConfig) *ThresholdHolder {
	h := &ThresholdHolder{cfg: cfg}
	h.current.Store(FallbackThresholds(cfg))
	return h
}

// Load returns the current snapshot. Callers must not modify it.
func (h *ThresholdHolder) Load() *domain.Thresholds {
	return h.current.Load()
}

// Swap installs next and returns the previous snapshot.
func (h *ThresholdHolder) Swap(next *domain.Thresholds) *domain.Thresholds {
	return h.current.Swap(next)
}

// Reload recomputes thresholds from the configured historical file, or from
// the fallbacks when none is configured. On error the current set is kept.
func (h *ThresholdHolder) Reload() (*domain.Thresholds, error) {
	if h.cfg.HistoricalDataPath == "" {
		t := FallbackThresholds(h.cfg)
		h.Swap(t)
		return t, nil
	}

	f, err := os.Open(h.cfg.HistoricalDataPath)
	if err != nil {
		return nil, fmt.Errorf("open historical data: %w", err)
	}
	defer f.Close()

	t, err := ComputeThresholds(f, h.cfg)
	if err != nil {
		return nil, fmt.Errorf("compute thresholds from %s: %w", h.cfg.HistoricalDataPath, err)
	}
	t.Source = h.cfg.HistoricalDataPath
	h.Swap(t)
	return t, nil
}
