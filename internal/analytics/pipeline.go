package analytics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/metrics"
	"github.com/viniciushammett/go-log-analytics/internal/notify"
	"github.com/viniciushammett/go-log-analytics/internal/store"
)

var tracer = otel.Tracer("analytics")

// ErrQueueFull is returned when the run queue cannot accept another request.
var ErrQueueFull = errors.New("analytics: run queue full")

const maxErrorChars = 2000

// Request asks for one pipeline run over an optional time range. Nil bounds
// fall back to end=now, start=end-24h at execution time.
type Request struct {
	Trigger string
	Start   *time.Time
	End     *time.Time
}

// Runner executes analytics runs one at a time. Requests are enqueued onto a
// buffered channel consumed by a single worker goroutine, so concurrent
// invocations never interleave their delete-then-insert sequences.
type Runner struct {
	log      *logger.Logger
	st       *store.Store
	notifier *notify.Slack
	queue    chan Request

	// clusterStage is clusterErrors unless a test swaps it.
	clusterStage func(*logger.Logger, *store.Store, uint64, time.Time, time.Time) (int, error)
}

func NewRunner(log *logger.Logger, st *store.Store, notifier *notify.Slack) *Runner {
	return &Runner{
		log:          log,
		st:           st,
		notifier:     notifier,
		queue:        make(chan Request, 16),
		clusterStage: clusterErrors,
	}
}

// Enqueue hands a run request to the worker without blocking.
func (r *Runner) Enqueue(req Request) error {
	select {
	case r.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start consumes queued requests until ctx is cancelled. A run already in
// progress finishes; there is no mid-run cancellation.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-r.queue:
				r.RunOnce(ctx, req)
			}
		}
	}()
}

// RunOnce executes one full pipeline invocation synchronously and returns
// the terminal run row. Stage failures mark the run failed; rows committed
// by earlier stages are deliberately not rolled back.
func (r *Runner) RunOnce(ctx context.Context, req Request) store.PipelineRun {
	ctx, span := tracer.Start(ctx, "analytics.run")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", req.Trigger))

	end := time.Now().UTC()
	if req.End != nil {
		end = *req.End
	}
	start := end.Add(-DefaultLookback)
	if req.Start != nil {
		start = *req.Start
	}

	run := store.PipelineRun{Trigger: req.Trigger}
	if err := r.st.CreateRun(&run); err != nil {
		r.log.Error().Err(err).Msg("create pipeline run")
		run.Status = store.RunFailed
		run.Error = truncate(err.Error(), maxErrorChars)
		return run
	}

	feats, err := ExtractWindowFeatures(r.st, start, end)
	if err != nil {
		return r.fail(run, err)
	}

	anomalies, err := detectAnomalies(r.log, r.st, feats, run.ID)
	if err != nil {
		return r.fail(run, err)
	}

	clusters, err := r.clusterStage(r.log, r.st, run.ID, start, end)
	if err != nil {
		return r.fail(run, err)
	}

	finished := time.Now().UTC()
	duration := finished.Sub(run.StartedAt).Seconds()
	run.Status = store.RunCompleted
	run.AnomaliesDetected = &anomalies
	run.ClustersCreated = &clusters
	run.FinishedAt = &finished
	run.DurationSeconds = &duration
	if err := r.st.UpdateRun(run); err != nil {
		r.log.Error().Err(err).Uint64("run", run.ID).Msg("persist completed run")
	}

	metrics.PipelineRuns.WithLabelValues(run.Trigger, run.Status).Inc()
	metrics.RunDuration.Observe(duration)
	metrics.AnomaliesDetected.Add(float64(anomalies))
	metrics.ClustersCreated.Set(float64(clusters))

	summary := SummarizeWindows(feats)
	r.log.Info().
		Uint64("run", run.ID).
		Str("trigger", run.Trigger).
		Int("anomalies", anomalies).
		Int("clusters", clusters).
		Int("windows", summary.Windows).
		Float64("mean_events", summary.MeanEvents).
		Float64("duration_s", duration).
		Msg("analytics run completed")

	if anomalies > 0 {
		if err := r.notifier.Send(notify.FormatRun(run.ID, run.Trigger, anomalies, clusters, finished.Sub(run.StartedAt))); err != nil {
			r.log.Warn().Err(err).Msg("slack notification failed")
		}
	}
	return run
}

func (r *Runner) fail(run store.PipelineRun, cause error) store.PipelineRun {
	finished := time.Now().UTC()
	duration := finished.Sub(run.StartedAt).Seconds()
	run.Status = store.RunFailed
	run.Error = truncate(cause.Error(), maxErrorChars)
	run.FinishedAt = &finished
	run.DurationSeconds = &duration
	if err := r.st.UpdateRun(run); err != nil {
		r.log.Error().Err(err).Uint64("run", run.ID).Msg("persist failed run")
	}
	metrics.PipelineRuns.WithLabelValues(run.Trigger, run.Status).Inc()
	r.log.Error().Err(cause).Uint64("run", run.ID).Msg("analytics run failed")
	return run
}
