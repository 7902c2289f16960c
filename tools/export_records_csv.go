package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/viniciushammett/go-log-analytics/internal/store"
)

func main() {
	var (
		dbPath  = flag.String("db", "data/log-analytics.db", "BoltDB path")
		outPath = flag.String("out", "records.csv", "output CSV file")
	)
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "level", "service", "message", "status", "confidence", "parser", "raw_line"}); err != nil {
		fmt.Fprintf(os.Stderr, "write header: %v\n", err)
		os.Exit(1)
	}

	n := 0
	err = st.IterateRecords(func(r store.Record) bool {
		row := []string{
			deref(formatTime(r.Timestamp)),
			deref(r.Level),
			deref(r.Service),
			deref(r.Message),
			string(r.Status),
			fmt.Sprintf("%.2f", r.Confidence),
			deref(r.ParserName),
			r.RawLine,
		}
		if err := w.Write(row); err != nil {
			fmt.Fprintf(os.Stderr, "write row: %v\n", err)
			return false
		}
		n++
		return true
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterate records: %v\n", err)
		os.Exit(1)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "finalize csv: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Exported %d records to %s\n", n, *outPath)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
