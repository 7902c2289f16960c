package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/viniciushammett/go-log-analytics/internal/kmeans"
	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/parser"
	"github.com/viniciushammett/go-log-analytics/internal/store"
	"github.com/viniciushammett/go-log-analytics/internal/textvec"
)

const (
	maxExampleChars  = 2000
	maxKeywordsChars = 500
	topKeywords      = 5
)

// clusterErrors vectorizes error-qualifying messages in [start, end] and
// partitions them into labeled clusters, replacing the whole cluster table.
// Returns the number of clusters stored. Unlike anomalies, the replace here
// is deliberately full-table, not range-scoped.
func clusterErrors(log *logger.Logger, st *store.Store, runID uint64, start, end time.Time) (int, error) {
	var messages []string
	var timestamps []*time.Time
	err := st.RecordsInRange(start, end, func(r store.Record) bool {
		qualifies := (r.Level != nil && *r.Level == "ERROR") || r.Status == parser.StatusFailed
		if !qualifies || r.Message == nil || *r.Message == "" {
			return true
		}
		messages = append(messages, *r.Message)
		timestamps = append(timestamps, r.Timestamp)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("query error records: %w", err)
	}

	if len(messages) < MinErrorsForClustering {
		log.Info().
			Int("messages", len(messages)).
			Int("required", MinErrorsForClustering).
			Msg("skipping error clustering: not enough error messages")
		return 0, nil
	}

	vec, matrix, err := textvec.Fit(messages, textvec.Options{
		MaxFeatures: 1000,
		MaxDocFreq:  0.95,
	})
	if errors.Is(err, textvec.ErrEmptyVocabulary) {
		log.Warn().Msg("tf-idf produced empty vocabulary; skipping clustering")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vectorize error messages: %w", err)
	}

	n := len(messages)
	k := max(2, n/5)
	if k > MaxClusters {
		k = MaxClusters
	}
	if k > n {
		k = n
	}
	if k < 2 {
		k = 2
	}

	result := kmeans.Run(matrix, k, KMeansRestarts, KMeansMaxIters, Seed)

	var clusters []store.ErrorCluster
	for label := 0; label < k; label++ {
		var indices []int
		for i, l := range result.Labels {
			if l == label {
				indices = append(indices, i)
			}
		}
		if len(indices) == 0 {
			continue
		}

		centroid := result.Centroids[label]

		// Example: the member closest to the centroid.
		closestIdx := indices[0]
		bestDist := kmeans.Distance(matrix[closestIdx], centroid)
		for _, i := range indices[1:] {
			if d := kmeans.Distance(matrix[i], centroid); d < bestDist {
				bestDist = d
				closestIdx = i
			}
		}

		var firstSeen, lastSeen *time.Time
		for _, i := range indices {
			ts := timestamps[i]
			if ts == nil {
				continue
			}
			if firstSeen == nil || ts.Before(*firstSeen) {
				firstSeen = ts
			}
			if lastSeen == nil || ts.After(*lastSeen) {
				lastSeen = ts
			}
		}

		clusters = append(clusters, store.ErrorCluster{
			Label:          label,
			ExampleMessage: truncate(messages[closestIdx], maxExampleChars),
			Count:          len(indices),
			Keywords:       truncate(topTerms(centroid, vec.Terms), maxKeywordsChars),
			FirstSeen:      firstSeen,
			LastSeen:       lastSeen,
			PipelineRunID:  runID,
		})
	}

	if err := st.ReplaceClusters(clusters); err != nil {
		return 0, fmt.Errorf("replace clusters: %w", err)
	}
	return len(clusters), nil
}

// topTerms renders the highest-weighted centroid dimensions as a
// comma-joined keyword list, skipping non-positive weights.
func topTerms(centroid []float64, terms []string) string {
	idx := make([]int, len(centroid))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if centroid[idx[a]] != centroid[idx[b]] {
			return centroid[idx[a]] > centroid[idx[b]]
		}
		return idx[a] < idx[b]
	})
	var out []string
	for _, i := range idx {
		if len(out) >= topKeywords || centroid[i] <= 0 {
			break
		}
		out = append(out, terms[i])
	}
	return strings.Join(out, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
