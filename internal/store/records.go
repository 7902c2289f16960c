package store

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/viniciushammett/go-log-analytics/internal/parser"
)

// Record is a parsed line plus its ingestion provenance.
type Record struct {
	parser.Record

	ID         uint64    `json:"id"`
	FileID     uint64    `json:"file_id,omitempty"`
	LineNumber int       `json:"line_number,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// effectiveTime is the key timestamp: the parsed timestamp when present,
// otherwise the ingestion time. Records without a parsed timestamp never
// qualify for analytics range predicates, so their key position only affects
// scan cost, not correctness.
func (r Record) effectiveTime() time.Time {
	if r.Timestamp != nil {
		return *r.Timestamp
	}
	return r.IngestedAt
}

// AppendRecords inserts a batch in one transaction and assigns IDs.
func (s *Store) AppendRecords(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bRecords)
		for i := range recs {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			recs[i].ID = seq
			j, err := json.Marshal(recs[i])
			if err != nil {
				return err
			}
			if err := b.Put(timeKey(recs[i].effectiveTime(), seq), j); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordsInRange streams records whose parsed timestamp lies in
// [start, end], in time order. Records without a parsed timestamp are
// skipped. Return false from fn to stop early.
func (s *Store) RecordsInRange(start, end time.Time, fn func(Record) bool) error {
	from := timeKeyPrefix(start)
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bRecords).Cursor()
		for k, v := c.Seek(from); k != nil && keyTime(k) <= end.UnixNano(); k, v = c.Next() {
			var r Record
			if json.Unmarshal(v, &r) != nil {
				continue
			}
			if r.Timestamp == nil || r.Timestamp.Before(start) || r.Timestamp.After(end) {
				continue
			}
			if !fn(r) {
				break
			}
		}
		return nil
	})
}

// IterateRecords walks every stored record in key order.
func (s *Store) IterateRecords(fn func(Record) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bRecords).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if json.Unmarshal(v, &r) != nil {
				continue
			}
			if !fn(r) {
				break
			}
		}
		return nil
	})
}

// RecordFilter narrows a record search. Zero values mean "no constraint".
type RecordFilter struct {
	FileID  uint64
	Level   string
	Service string
	Status  parser.Status
	Query   string // substring match on message or raw line
	Start   *time.Time
	End     *time.Time
}

func (f RecordFilter) matches(r Record) bool {
	if f.FileID != 0 && r.FileID != f.FileID {
		return false
	}
	if f.Level != "" && (r.Level == nil || *r.Level != f.Level) {
		return false
	}
	if f.Service != "" && (r.Service == nil || *r.Service != f.Service) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Start != nil && (r.Timestamp == nil || r.Timestamp.Before(*f.Start)) {
		return false
	}
	if f.End != nil && (r.Timestamp == nil || r.Timestamp.After(*f.End)) {
		return false
	}
	if f.Query != "" {
		if r.Message != nil && strings.Contains(*r.Message, f.Query) {
			return true
		}
		return strings.Contains(r.RawLine, f.Query)
	}
	return true
}

// SearchRecords returns one page of matching records plus the total match
// count.
func (s *Store) SearchRecords(f RecordFilter, offset, limit int) ([]Record, int, error) {
	out := []Record{}
	total := 0
	err := s.IterateRecords(func(r Record) bool {
		if !f.matches(r) {
			return true
		}
		if total >= offset && (limit <= 0 || len(out) < limit) {
			out = append(out, r)
		}
		total++
		return true
	})
	return out, total, err
}

// LevelCount is one row of the per-level breakdown.
type LevelCount struct {
	Level string `json:"level"`
	Count int    `json:"count"`
}

// ServiceCount is one row of the top-services breakdown.
type ServiceCount struct {
	Service string `json:"service"`
	Count   int    `json:"count"`
}

// StatsSummary aggregates the whole record set.
type StatsSummary struct {
	TotalRecords   int            `json:"total_records"`
	TotalFiles     int            `json:"total_files"`
	LevelBreakdown []LevelCount   `json:"level_breakdown"`
	TopServices    []ServiceCount `json:"top_services"`
}

// Summary scans the record set and returns counts by level and the top
// services by volume.
func (s *Store) Summary(topN int) (StatsSummary, error) {
	levels := map[string]int{}
	services := map[string]int{}
	total := 0
	err := s.IterateRecords(func(r Record) bool {
		total++
		if r.Level != nil {
			levels[*r.Level]++
		}
		if r.Service != nil {
			services[*r.Service]++
		}
		return true
	})
	if err != nil {
		return StatsSummary{}, err
	}

	sum := StatsSummary{TotalRecords: total}
	for l, n := range levels {
		sum.LevelBreakdown = append(sum.LevelBreakdown, LevelCount{Level: l, Count: n})
	}
	sort.Slice(sum.LevelBreakdown, func(i, j int) bool {
		a, b := sum.LevelBreakdown[i], sum.LevelBreakdown[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Level < b.Level
	})
	for svc, n := range services {
		sum.TopServices = append(sum.TopServices, ServiceCount{Service: svc, Count: n})
	}
	sort.Slice(sum.TopServices, func(i, j int) bool {
		a, b := sum.TopServices[i], sum.TopServices[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Service < b.Service
	})
	if topN > 0 && len(sum.TopServices) > topN {
		sum.TopServices = sum.TopServices[:topN]
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		sum.TotalFiles = tx.Bucket(bFiles).Stats().KeyN
		return nil
	})
	return sum, err
}
