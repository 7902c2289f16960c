package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bRecords   = []byte("records")
	bFiles     = []byte("files")
	bAnomalies = []byte("anomalies")
	bClusters  = []byte("clusters")
	bRuns      = []byte("runs")
)

// Store is the bbolt-backed persistence layer. Records and anomalies are
// keyed by timestamp nanos plus an insertion sequence so cursors walk them in
// time order.
type Store struct{ db *bolt.DB }

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bRecords, bFiles, bAnomalies, bClusters, bRuns} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// timeKey builds a 16-byte key: big-endian unix nanos followed by a
// per-bucket sequence to keep keys unique within one nanosecond.
func timeKey(t time.Time, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}

func timeKeyPrefix(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

func keyTime(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[:8]))
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}
