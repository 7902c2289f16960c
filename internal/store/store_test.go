package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-log-analytics/internal/parser"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(ts time.Time, level, service, msg string) Record {
	return Record{
		Record: parser.Record{
			Timestamp:  &ts,
			Level:      &level,
			Service:    &service,
			Message:    &msg,
			RawLine:    msg,
			Status:     parser.StatusParsed,
			Confidence: 0.95,
		},
		IngestedAt: time.Now().UTC(),
	}
}

func TestAppendAndRangeScan(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var recs []Record
	for i := 0; i < 10; i++ {
		recs = append(recs, rec(base.Add(time.Duration(i)*time.Minute), "INFO", "svc", "m"))
	}
	require.NoError(t, s.AppendRecords(recs))

	var got []Record
	err := s.RecordsInRange(base.Add(2*time.Minute), base.Add(5*time.Minute), func(r Record) bool {
		got = append(got, r)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 4) // minutes 2..5 inclusive
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(*got[i-1].Timestamp), "records out of order")
	}
}

func TestRangeScanSkipsRecordsWithoutTimestamp(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	noTS := Record{
		Record:     parser.Record{RawLine: "garbage", Status: parser.StatusFailed},
		IngestedAt: now,
	}
	require.NoError(t, s.AppendRecords([]Record{noTS, rec(now, "ERROR", "svc", "boom")}))

	count := 0
	err := s.RecordsInRange(now.Add(-time.Hour), now.Add(time.Hour), func(r Record) bool {
		count++
		require.NotNil(t, r.Timestamp)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSearchRecords(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendRecords([]Record{
		rec(base, "ERROR", "billing", "payment failed"),
		rec(base.Add(time.Minute), "INFO", "auth", "login ok"),
		rec(base.Add(2*time.Minute), "ERROR", "auth", "token expired"),
	}))

	items, total, err := s.SearchRecords(RecordFilter{Level: "ERROR"}, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = s.SearchRecords(RecordFilter{Service: "auth", Query: "token"}, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "token expired", *items[0].Message)

	_, total, err = s.SearchRecords(RecordFilter{}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSourceFileLifecycle(t *testing.T) {
	s := newTestStore(t)

	f := SourceFile{Filename: "app.log", StoredPath: "/tmp/x"}
	require.NoError(t, s.CreateFile(&f))
	assert.NotZero(t, f.ID)
	assert.Equal(t, FileUploaded, f.Status)

	f.Status = FileProcessed
	f.TotalLines = 42
	require.NoError(t, s.UpdateFile(f))

	got, err := s.GetFile(f.ID)
	require.NoError(t, err)
	assert.Equal(t, FileProcessed, got.Status)
	assert.Equal(t, 42, got.TotalLines)

	files, total, err := s.ListFiles(FileProcessed, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, files, 1)
}

func TestAnomalyRangeScopedDelete(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	win := 2 * time.Minute

	mk := func(start time.Time, score float64) Anomaly {
		return Anomaly{WindowStart: start, WindowEnd: start.Add(win), Score: score}
	}
	require.NoError(t, s.PutAnomalies([]Anomaly{
		mk(base, -0.1),
		mk(base.Add(10*time.Minute), -0.2),
		mk(base.Add(2*time.Hour), -0.3), // outside the deleted range
	}))

	require.NoError(t, s.DeleteAnomaliesInRange(base, base.Add(time.Hour)))

	all, total, err := s.ListAnomalies(nil, nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, all, 1)
	assert.Equal(t, base.Add(2*time.Hour), all[0].WindowStart)
}

func TestListAnomaliesOrderedByScore(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutAnomalies([]Anomaly{
		{WindowStart: base, WindowEnd: base.Add(time.Minute), Score: -0.05},
		{WindowStart: base.Add(time.Hour), WindowEnd: base.Add(61 * time.Minute), Score: -0.4},
	}))

	all, _, err := s.ListAnomalies(nil, nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, -0.4, all[0].Score, "most anomalous first")
}

func TestReplaceClustersIsFullTable(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ReplaceClusters([]ErrorCluster{
		{Label: 0, ExampleMessage: "a", Count: 3},
		{Label: 1, ExampleMessage: "b", Count: 1},
	}))
	require.NoError(t, s.ReplaceClusters([]ErrorCluster{
		{Label: 0, ExampleMessage: "c", Count: 7},
	}))

	all, total, err := s.ListClusters(0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, all, 1)
	assert.Equal(t, "c", all[0].ExampleMessage)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	r := PipelineRun{Trigger: "manual"}
	require.NoError(t, s.CreateRun(&r))
	assert.NotZero(t, r.ID)
	assert.Equal(t, RunRunning, r.Status)
	assert.False(t, r.StartedAt.IsZero())

	finished := r.StartedAt.Add(2 * time.Second)
	duration := 2.0
	n := 3
	r.Status = RunCompleted
	r.AnomaliesDetected = &n
	r.FinishedAt = &finished
	r.DurationSeconds = &duration
	require.NoError(t, s.UpdateRun(r))

	got, err := s.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.False(t, got.FinishedAt.Before(got.StartedAt))

	runs, total, err := s.ListRuns(0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, runs, 1)
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendRecords([]Record{
		rec(base, "ERROR", "billing", "x"),
		rec(base, "ERROR", "billing", "y"),
		rec(base, "INFO", "auth", "z"),
	}))

	sum, err := s.Summary(10)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalRecords)
	require.NotEmpty(t, sum.LevelBreakdown)
	assert.Equal(t, LevelCount{Level: "ERROR", Count: 2}, sum.LevelBreakdown[0])
	assert.Equal(t, ServiceCount{Service: "billing", Count: 2}, sum.TopServices[0])
}
