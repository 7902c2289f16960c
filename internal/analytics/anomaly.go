package analytics

import (
	"fmt"
	"strings"

	"github.com/viniciushammett/go-log-analytics/internal/iforest"
	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/store"
)

// detectAnomalies fits the outlier ensemble over the window vectors, replaces
// prior anomalies covering the same window range, and persists every flagged
// window. Returns the number of anomalies stored.
func detectAnomalies(log *logger.Logger, st *store.Store, feats []WindowFeatures, runID uint64) (int, error) {
	if len(feats) < MinSamplesForAnomaly {
		log.Info().
			Int("windows", len(feats)).
			Int("required", MinSamplesForAnomaly).
			Msg("skipping anomaly detection: not enough windows")
		return 0, nil
	}

	matrix := make([][]float64, len(feats))
	for i, f := range feats {
		matrix[i] = f.vector()
	}

	forest := iforest.Fit(matrix, Estimators, iforest.DefaultSubsample, Seed)
	scores := forest.Scores(matrix)
	threshold := iforest.OutlierThreshold(scores, Contamination)

	// Range-scoped replace: drop prior anomalies fully inside the covered
	// range so re-runs over overlapping ranges do not duplicate rows.
	rangeStart := feats[0].WindowStart
	rangeEnd := feats[len(feats)-1].WindowEnd
	if err := st.DeleteAnomaliesInRange(rangeStart, rangeEnd); err != nil {
		return 0, fmt.Errorf("delete prior anomalies: %w", err)
	}

	var anoms []store.Anomaly
	for i, f := range feats {
		if scores[i] >= threshold {
			continue
		}
		anoms = append(anoms, store.Anomaly{
			WindowStart:   f.WindowStart,
			WindowEnd:     f.WindowEnd,
			Score:         scores[i],
			Features:      f.featureMap(),
			Description:   describeWindow(f),
			PipelineRunID: runID,
		})
	}
	if err := st.PutAnomalies(anoms); err != nil {
		return 0, fmt.Errorf("store anomalies: %w", err)
	}
	return len(anoms), nil
}

// describeWindow renders the deterministic anomaly description.
func describeWindow(f WindowFeatures) string {
	parts := []string{fmt.Sprintf("%d events in window", f.TotalCount)}
	if f.ErrorRate > 0 {
		parts = append(parts, fmt.Sprintf("%.1f%% error rate", f.ErrorRate*100))
	}
	if f.ErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", f.ErrorCount))
	}
	parts = append(parts, fmt.Sprintf("%d services", f.UniqueServices))
	return "Anomalous window: " + strings.Join(parts, ", ")
}
