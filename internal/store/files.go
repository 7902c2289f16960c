package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Source file lifecycle statuses.
const (
	FileUploaded   = "uploaded"
	FileProcessing = "processing"
	FileProcessed  = "processed"
	FileFailed     = "failed"
)

// SourceFile tracks one uploaded log file through ingestion.
type SourceFile struct {
	ID          uint64     `json:"id"`
	Filename    string     `json:"filename"`
	StoredPath  string     `json:"stored_path"`
	Source      string     `json:"source,omitempty"`
	Environment string     `json:"environment,omitempty"`
	LogType     string     `json:"log_type,omitempty"`
	Status      string     `json:"status"`
	TotalLines  int        `json:"total_lines"`
	ParsedLines int        `json:"parsed_lines"`
	FailedLines int        `json:"failed_lines"`
	Error       string     `json:"error,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// CreateFile stores a new source file in "uploaded" state and assigns an ID.
func (s *Store) CreateFile(f *SourceFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bFiles)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		f.ID = seq
		if f.Status == "" {
			f.Status = FileUploaded
		}
		if f.UploadedAt.IsZero() {
			f.UploadedAt = time.Now().UTC()
		}
		j, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return b.Put(idKey(f.ID), j)
	})
}

// UpdateFile overwrites an existing source file row.
func (s *Store) UpdateFile(f SourceFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bFiles)
		if b.Get(idKey(f.ID)) == nil {
			return fmt.Errorf("file %d not found", f.ID)
		}
		j, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return b.Put(idKey(f.ID), j)
	})
}

func (s *Store) GetFile(id uint64) (SourceFile, error) {
	var f SourceFile
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bFiles).Get(idKey(id))
		if v == nil {
			return fmt.Errorf("file %d not found", id)
		}
		return json.Unmarshal(v, &f)
	})
	return f, err
}

// ListFiles returns files newest-first, optionally filtered by status.
func (s *Store) ListFiles(status string, offset, limit int) ([]SourceFile, int, error) {
	out := []SourceFile{}
	total := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bFiles).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var f SourceFile
			if json.Unmarshal(v, &f) != nil {
				continue
			}
			if status != "" && f.Status != status {
				continue
			}
			if total >= offset && (limit <= 0 || len(out) < limit) {
				out = append(out, f)
			}
			total++
		}
		return nil
	})
	return out, total, err
}
