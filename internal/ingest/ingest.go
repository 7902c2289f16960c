package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/viniciushammett/go-log-analytics/internal/analytics"
	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/metrics"
	"github.com/viniciushammett/go-log-analytics/internal/parser"
	"github.com/viniciushammett/go-log-analytics/internal/store"
)

// BatchSize is how many parsed records are committed per transaction.
const BatchSize = 2000

// Processor turns uploaded files into parsed records and hands completed
// ingestions to the analytics runner.
type Processor struct {
	log    *logger.Logger
	st     *store.Store
	runner *analytics.Runner
}

func New(log *logger.Logger, st *store.Store, runner *analytics.Runner) *Processor {
	return &Processor{log: log, st: st, runner: runner}
}

// ProcessFile parses every line of a stored source file into records,
// updates the file's lifecycle row, and enqueues a post-ingestion analytics
// run. The parser is total, so individual lines never abort ingestion.
func (p *Processor) ProcessFile(fileID uint64) error {
	lf, err := p.st.GetFile(fileID)
	if err != nil {
		return err
	}
	p.log.Info().Uint64("file", fileID).Str("path", lf.StoredPath).Msg("ingestion started")

	lf.Status = store.FileProcessing
	lf.Error = ""
	if err := p.st.UpdateFile(lf); err != nil {
		return err
	}

	total, parsed, failed, err := p.ingestLines(lf)
	now := time.Now().UTC()
	lf.ProcessedAt = &now
	if err != nil {
		lf.Status = store.FileFailed
		lf.Error = err.Error()
		if uerr := p.st.UpdateFile(lf); uerr != nil {
			p.log.Error().Err(uerr).Uint64("file", fileID).Msg("persist failed ingestion")
		}
		metrics.FilesProcessed.WithLabelValues(store.FileFailed).Inc()
		return fmt.Errorf("ingest file %d: %w", fileID, err)
	}

	lf.Status = store.FileProcessed
	lf.TotalLines = total
	lf.ParsedLines = parsed
	lf.FailedLines = failed
	if err := p.st.UpdateFile(lf); err != nil {
		return err
	}
	metrics.FilesProcessed.WithLabelValues(store.FileProcessed).Inc()
	p.log.Info().
		Uint64("file", fileID).
		Int("total", total).
		Int("parsed", parsed).
		Int("failed", failed).
		Msg("ingestion complete")

	// Completed ingestion hands off to the analytics worker; the queue
	// serializes runs so overlapping uploads cannot race.
	if err := p.runner.Enqueue(analytics.Request{Trigger: "post_ingestion"}); err != nil {
		p.log.Warn().Err(err).Msg("post-ingestion analytics not enqueued")
	}
	return nil
}

func (p *Processor) ingestLines(lf store.SourceFile) (total, parsed, failed int, err error) {
	f, err := os.Open(lf.StoredPath)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	ingestedAt := time.Now().UTC()
	batch := make([]store.Record, 0, BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.st.AppendRecords(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	// ReadString puts no cap on line length: an oversized line becomes one
	// (likely failed) record instead of aborting the whole file.
	rd := bufio.NewReaderSize(f, 64*1024)
	lineNumber := 0
	for {
		line, rerr := rd.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return total, parsed, failed, rerr
		}
		if line != "" {
			lineNumber++
			total++
			rec := parser.Parse(line)

			name := "none"
			if rec.ParserName != nil {
				name = *rec.ParserName
			}
			metrics.LinesIngested.WithLabelValues(name, string(rec.Status)).Inc()
			if rec.Status == parser.StatusFailed {
				failed++
			} else {
				parsed++
			}

			batch = append(batch, store.Record{
				Record:     rec,
				FileID:     lf.ID,
				LineNumber: lineNumber,
				IngestedAt: ingestedAt,
			})
			if len(batch) >= BatchSize {
				if err := flush(); err != nil {
					return total, parsed, failed, err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
	}
	return total, parsed, failed, flush()
}
