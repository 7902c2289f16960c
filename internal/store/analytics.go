package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Anomaly is one flagged time window. Score is model-native: lower means
// more anomalous.
type Anomaly struct {
	ID            uint64             `json:"id"`
	WindowStart   time.Time          `json:"window_start"`
	WindowEnd     time.Time          `json:"window_end"`
	Score         float64            `json:"score"`
	Features      map[string]float64 `json:"features,omitempty"`
	Description   string             `json:"description,omitempty"`
	PipelineRunID uint64             `json:"pipeline_run_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// PutAnomalies inserts a batch in one transaction, keyed by window start.
func (s *Store) PutAnomalies(anoms []Anomaly) error {
	if len(anoms) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bAnomalies)
		for i := range anoms {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			anoms[i].ID = seq
			if anoms[i].CreatedAt.IsZero() {
				anoms[i].CreatedAt = time.Now().UTC()
			}
			j, err := json.Marshal(anoms[i])
			if err != nil {
				return err
			}
			if err := b.Put(timeKey(anoms[i].WindowStart, seq), j); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAnomaliesInRange removes anomalies whose window lies fully inside
// [start, end]. This is the range-scoped half of the replace contract;
// clusters use a full-table replace instead.
func (s *Store) DeleteAnomaliesInRange(start, end time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bAnomalies)
		c := b.Cursor()
		var doomed [][]byte
		for k, v := c.Seek(timeKeyPrefix(start)); k != nil && keyTime(k) <= end.UnixNano(); k, v = c.Next() {
			var a Anomaly
			if json.Unmarshal(v, &a) != nil {
				continue
			}
			if !a.WindowStart.Before(start) && !a.WindowEnd.After(end) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAnomalies returns one page ordered by score ascending (most anomalous
// first), optionally bounded by window time.
func (s *Store) ListAnomalies(start, end *time.Time, offset, limit int) ([]Anomaly, int, error) {
	all := []Anomaly{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bAnomalies).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a Anomaly
			if json.Unmarshal(v, &a) != nil {
				continue
			}
			if start != nil && a.WindowStart.Before(*start) {
				continue
			}
			if end != nil && a.WindowEnd.After(*end) {
				continue
			}
			all = append(all, a)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score < all[j].Score })
	return page(all, offset, limit), len(all), nil
}

// ErrorCluster is one labeled group of recurring error messages.
type ErrorCluster struct {
	ID             uint64     `json:"id"`
	Label          int        `json:"label"`
	ExampleMessage string     `json:"example_message"`
	Count          int        `json:"count"`
	Keywords       string     `json:"keywords,omitempty"`
	FirstSeen      *time.Time `json:"first_seen,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	PipelineRunID  uint64     `json:"pipeline_run_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ReplaceClusters drops every existing cluster row and inserts the new set
// atomically. Each successful clustering pass owns the whole table.
func (s *Store) ReplaceClusters(clusters []ErrorCluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bClusters); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bClusters)
		if err != nil {
			return err
		}
		for i := range clusters {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			clusters[i].ID = seq
			if clusters[i].CreatedAt.IsZero() {
				clusters[i].CreatedAt = time.Now().UTC()
			}
			j, err := json.Marshal(clusters[i])
			if err != nil {
				return err
			}
			if err := b.Put(idKey(seq), j); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListClusters returns one page ordered by member count descending.
func (s *Store) ListClusters(offset, limit int) ([]ErrorCluster, int, error) {
	all := []ErrorCluster{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bClusters).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ec ErrorCluster
			if json.Unmarshal(v, &ec) != nil {
				continue
			}
			all = append(all, ec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Label < all[j].Label
	})
	return page(all, offset, limit), len(all), nil
}

// Pipeline run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// PipelineRun is one end-to-end analytics invocation.
type PipelineRun struct {
	ID                uint64     `json:"id"`
	Trigger           string     `json:"trigger"`
	Status            string     `json:"status"`
	AnomaliesDetected *int       `json:"anomalies_detected,omitempty"`
	ClustersCreated   *int       `json:"clusters_created,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	DurationSeconds   *float64   `json:"duration_seconds,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// CreateRun inserts a new run in "running" state and assigns its ID.
func (s *Store) CreateRun(r *PipelineRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bRuns)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		r.ID = seq
		if r.Status == "" {
			r.Status = RunRunning
		}
		if r.StartedAt.IsZero() {
			r.StartedAt = time.Now().UTC()
		}
		j, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(idKey(r.ID), j)
	})
}

// UpdateRun overwrites an existing run row.
func (s *Store) UpdateRun(r PipelineRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bRuns)
		if b.Get(idKey(r.ID)) == nil {
			return fmt.Errorf("run %d not found", r.ID)
		}
		j, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(idKey(r.ID), j)
	})
}

func (s *Store) GetRun(id uint64) (PipelineRun, error) {
	var r PipelineRun
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bRuns).Get(idKey(id))
		if v == nil {
			return fmt.Errorf("run %d not found", id)
		}
		return json.Unmarshal(v, &r)
	})
	return r, err
}

// ListRuns returns runs newest-first.
func (s *Store) ListRuns(offset, limit int) ([]PipelineRun, int, error) {
	out := []PipelineRun{}
	total := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r PipelineRun
			if json.Unmarshal(v, &r) != nil {
				continue
			}
			if total >= offset && (limit <= 0 || len(out) < limit) {
				out = append(out, r)
			}
			total++
		}
		return nil
	})
	return out, total, err
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	out := all[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
