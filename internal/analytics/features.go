package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/viniciushammett/go-log-analytics/internal/store"
)

// Fixed pipeline constants. These are part of the observable contract:
// seeded model outputs only reproduce if they match exactly.
const (
	WindowMinutes          = 2
	MaxClusters            = 20
	MinSamplesForAnomaly   = 5
	MinErrorsForClustering = 2
	Contamination          = 0.10
	Estimators             = 100
	KMeansRestarts         = 10
	KMeansMaxIters         = 300
	Seed                   = 42

	// DefaultLookback is the analyzed range when the caller supplies none.
	DefaultLookback = 24 * time.Hour
)

// WindowFeatures aggregates the records of one 2-minute bucket. It is
// ephemeral: windows feed the detector and are not persisted.
type WindowFeatures struct {
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	TotalCount     int       `json:"total_count"`
	ErrorCount     int       `json:"error_count"`
	WarnCount      int       `json:"warn_count"`
	InfoCount      int       `json:"info_count"`
	DebugCount     int       `json:"debug_count"`
	ErrorRate      float64   `json:"error_rate"`
	UniqueServices int       `json:"unique_services"`
}

type windowAgg struct {
	total, errs, warns, infos, debugs int
	services                          map[string]bool
}

// ExtractWindowFeatures buckets records with a parsed timestamp in
// [start, end] into epoch-aligned 2-minute windows. Empty windows are
// omitted, so the returned sequence is sparse in time.
func ExtractWindowFeatures(st *store.Store, start, end time.Time) ([]WindowFeatures, error) {
	const bucketSeconds = WindowMinutes * 60

	aggs := map[int64]*windowAgg{}
	err := st.RecordsInRange(start, end, func(r store.Record) bool {
		epoch := r.Timestamp.Unix()
		bucket := int64(math.Floor(float64(epoch)/bucketSeconds)) * bucketSeconds
		a := aggs[bucket]
		if a == nil {
			a = &windowAgg{services: map[string]bool{}}
			aggs[bucket] = a
		}
		a.total++
		if r.Level != nil {
			switch *r.Level {
			case "ERROR":
				a.errs++
			case "WARN", "WARNING":
				a.warns++
			case "INFO":
				a.infos++
			case "DEBUG":
				a.debugs++
			}
		}
		if r.Service != nil {
			a.services[*r.Service] = true
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	starts := make([]int64, 0, len(aggs))
	for b := range aggs {
		starts = append(starts, b)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]WindowFeatures, 0, len(starts))
	for _, b := range starts {
		a := aggs[b]
		ws := time.Unix(b, 0).UTC()
		rate := 0.0
		if a.total > 0 {
			rate = math.Round(float64(a.errs)/float64(a.total)*10000) / 10000
		}
		out = append(out, WindowFeatures{
			WindowStart:    ws,
			WindowEnd:      ws.Add(WindowMinutes * time.Minute),
			TotalCount:     a.total,
			ErrorCount:     a.errs,
			WarnCount:      a.warns,
			InfoCount:      a.infos,
			DebugCount:     a.debugs,
			ErrorRate:      rate,
			UniqueServices: len(a.services),
		})
	}
	return out, nil
}

// vector is the fixed 5-dimensional detector input for one window.
func (w WindowFeatures) vector() []float64 {
	return []float64{
		float64(w.TotalCount),
		float64(w.ErrorCount),
		w.ErrorRate,
		float64(w.UniqueServices),
		float64(w.WarnCount),
	}
}

func (w WindowFeatures) featureMap() map[string]float64 {
	return map[string]float64{
		"total_count":     float64(w.TotalCount),
		"error_count":     float64(w.ErrorCount),
		"error_rate":      w.ErrorRate,
		"unique_services": float64(w.UniqueServices),
		"warn_count":      float64(w.WarnCount),
	}
}

// RangeSummary describes per-window event volume over an analyzed range.
type RangeSummary struct {
	Windows    int     `json:"windows"`
	MeanEvents float64 `json:"mean_events"`
	MaxEvents  float64 `json:"max_events"`
	P95Events  float64 `json:"p95_events"`
}

// SummarizeWindows computes volume statistics over window totals.
func SummarizeWindows(feats []WindowFeatures) RangeSummary {
	if len(feats) == 0 {
		return RangeSummary{}
	}
	totals := make(stats.Float64Data, len(feats))
	for i, f := range feats {
		totals[i] = float64(f.TotalCount)
	}
	mean, _ := stats.Mean(totals)
	max, _ := stats.Max(totals)
	p95, _ := stats.Percentile(totals, 95)
	return RangeSummary{Windows: len(feats), MeanEvents: mean, MaxEvents: max, P95Events: p95}
}
