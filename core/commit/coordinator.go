package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/core/perkey"
	"github.com/codewandler/eventstore-go/internal/retry"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

var (
	ErrClosed     = errors.New("commit coordinator closed")
	ErrMissingLog = errors.New("commit coordinator needs a log")
	// ErrIndexCannotRebuild is returned by New when the log is readable but
	// the supplied index has no loader to rebuild heads from it.
	ErrIndexCannotRebuild = errors.New("index cannot rebuild heads from the log")
)

// Index is the stream index as used by the coordinator. *index.Index
// implements it.
type Index interface {
	State
	Positions
	Warm(ctx context.Context, streamID string) error
	RecordAppend(streamID string, start, end int64, positions []es.LogPosition) error
	MarkDeleted(ctx context.Context, streamID string) error
	Invalidate(streamID string)
	CanRebuild() bool
}

// Options configures a Coordinator. Only Log is required.
type Options struct {
	Log eventlog.Log
	// Index defaults to an index.Index that loads from Log when Log also
	// implements eventlog.Reader. A supplied Index must then be able to
	// rebuild from it too.
	Index   Index
	Logger  *slog.Logger
	Metrics Metrics
	Tracer  trace.Tracer
	// Retry is the backoff for the index update after a successful log
	// write. MaxAttempts is ignored: the update is retried until it
	// succeeds or the coordinator is closed. Defaults to retry.Forever().
	Retry retry.Config
	// QueueSize is the number of appends buffered per stream (default 64).
	QueueSize int
	// CloseGrace is how long Close lets queued appends finish their index
	// updates before it cancels the retries (default 5s).
	CloseGrace time.Duration
}

const defaultCloseGrace = 5 * time.Second

// Coordinator is the single writer of every stream it serves.
type Coordinator struct {
	log       eventlog.Log
	index     Index
	ownIndex  *index.Index
	validator *Validator
	sched     *perkey.Scheduler[string]
	retry     retry.Config
	grace     time.Duration
	metrics   Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	// stop cancels index-update retries on Close.
	stop   context.Context
	cancel context.CancelFunc
}

func New(opts Options) (*Coordinator, error) {
	if opts.Log == nil {
		return nil, ErrMissingLog
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/codewandler/eventstore-go/core/commit")
	}
	if opts.Retry == (retry.Config{}) {
		opts.Retry = retry.Forever()
	}
	opts.Retry.MaxAttempts = 0
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("index update retry: %w", err)
	}

	c := &Coordinator{
		log:     opts.Log,
		index:   opts.Index,
		retry:   opts.Retry,
		grace:   opts.CloseGrace,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger.With(slog.String("component", "commit")),
	}

	_, readable := opts.Log.(eventlog.Reader)
	if c.index != nil && readable && !c.index.CanRebuild() {
		return nil, ErrIndexCannotRebuild
	}
	if c.index == nil {
		idxOpts := []index.Option{index.WithLogger(opts.Logger)}
		if r, ok := opts.Log.(eventlog.Reader); ok {
			idxOpts = append(idxOpts, index.WithLoader(r))
		}
		c.ownIndex = index.New(idxOpts...)
		c.index = c.ownIndex
	}

	var schedOpts []perkey.Option
	if opts.QueueSize > 0 {
		schedOpts = append(schedOpts, perkey.WithBufferSize(opts.QueueSize))
	}
	c.sched = perkey.New[string](schedOpts...)
	c.validator = NewValidator(c.index, NewChecker(c.index, c.log))
	c.stop, c.cancel = context.WithCancel(context.Background())

	return c, nil
}

// Append validates events against expected and, on Ok, writes them to the
// log and records them in the index.
//
// Rejections come back as a result with a nil error. A non-nil error is
// either retryable (es.IsRetryable, nothing was written), ErrClosed, the
// context error when ctx ended while the append was still queued, or
// es.ErrIndexDiverged when the log accepted the write but the index could
// not record it before Close.
func (c *Coordinator) Append(ctx context.Context, streamID string, expected es.ExpectedVersion, events []es.Event) (*es.CommitCheckResult, error) {
	ctx, span := c.tracer.Start(ctx, "commit.Append", trace.WithAttributes(
		attribute.String("stream.id", streamID),
		attribute.String("stream.expected", expected.String()),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	defer c.metrics.AppendDuration().ObserveDuration()

	var res es.CommitCheckResult
	err := c.inSection(ctx, streamID, func(ctx context.Context) (err error) {
		res, err = c.append(ctx, streamID, expected, events)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("commit.decision", res.Decision.String()),
		attribute.Int64("commit.start", res.StartEventNumber),
		attribute.Int64("commit.end", res.EndEventNumber),
	)
	span.SetStatus(codes.Ok, "")
	return &res, nil
}

func (c *Coordinator) append(ctx context.Context, streamID string, expected es.ExpectedVersion, events []es.Event) (es.CommitCheckResult, error) {
	if streamID != "" {
		if err := c.index.Warm(ctx, streamID); err != nil {
			return es.CommitCheckResult{}, es.Transient("warm index", err)
		}
	}

	res, err := c.validator.Validate(ctx, streamID, expected, events)
	if err != nil {
		return es.CommitCheckResult{}, err
	}
	c.metrics.Decision(res.Decision)

	log := c.logger.With(slog.String("stream", streamID), expected.SlogAttr())
	switch res.Decision {
	case es.DecisionOk:
	case es.DecisionCorruptedIdempotency:
		log.Warn("corrupted idempotency: batch differs from committed events", res.SlogAttr(), slog.String("reason", res.Reason))
		return res, nil
	case es.DecisionIdempotentNotInsert:
		log.Warn("batch partially committed, remainder not written", res.SlogAttr(), slog.String("reason", res.Reason))
		return res, nil
	default:
		log.Debug("append rejected", res.SlogAttr(), slog.String("reason", res.Reason))
		return res, nil
	}

	if len(events) == 0 {
		return res, nil
	}

	positions, err := c.log.Append(ctx, streamID, res.StartEventNumber, events)
	if err != nil {
		if errors.Is(err, es.ErrConcurrencyConflict) {
			// another writer reached the log; forget what we know
			c.index.Invalidate(streamID)
			log.Warn("log rejected append, stream moved outside the coordinator", slog.Any("error", err))
			return es.Rejected(es.DecisionWrongExpectedVersion, streamID, res.CurrentVersion, err.Error()), nil
		}
		return es.CommitCheckResult{}, es.Transient("append to log", err)
	}
	if len(positions) != len(events) {
		c.index.Invalidate(streamID)
		return es.CommitCheckResult{}, fmt.Errorf("%w: log returned %d positions for %d events", es.ErrIndexDiverged, len(positions), len(events))
	}
	res.Positions = positions

	if err := c.recordAppend(streamID, res); err != nil {
		return es.CommitCheckResult{}, err
	}

	c.metrics.EventsAppended(len(events))
	log.Debug("append committed", res.SlogAttr())
	return res, nil
}

// recordAppend publishes a written batch to the index. The log already holds
// the events, so this is retried until it succeeds or Close is called.
func (c *Coordinator) recordAppend(streamID string, res es.CommitCheckResult) error {
	err := retry.Do(c.stop, c.retry, func(context.Context, int) error {
		err := c.index.RecordAppend(streamID, res.StartEventNumber, res.EndEventNumber, res.Positions)
		if errors.Is(err, index.ErrRangeConflict) && !c.index.IsDeleted(streamID) &&
			c.index.CurrentVersion(streamID) == es.Version(res.EndEventNumber) {
			// head was rebuilt from the log and already covers the batch
			return nil
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		c.metrics.IndexRetries().Inc()
		c.logger.Error("index update failed after log write",
			slog.String("stream", streamID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("error", err),
		)
	})
	if err == nil {
		return nil
	}

	c.index.Invalidate(streamID)
	return fmt.Errorf("%w: stream %s [%d, %d]: %w", es.ErrIndexDiverged, streamID, res.StartEventNumber, res.EndEventNumber, err)
}

// Delete tombstones streamID. expected must be Any or the current version.
// After a successful delete every append to the stream yields StreamDeleted.
func (c *Coordinator) Delete(ctx context.Context, streamID string, expected es.ExpectedVersion) (*es.CommitCheckResult, error) {
	ctx, span := c.tracer.Start(ctx, "commit.Delete", trace.WithAttributes(
		attribute.String("stream.id", streamID),
		attribute.String("stream.expected", expected.String()),
	))
	defer span.End()

	var res es.CommitCheckResult
	err := c.inSection(ctx, streamID, func(ctx context.Context) error {
		if streamID != "" {
			if err := c.index.Warm(ctx, streamID); err != nil {
				return es.Transient("warm index", err)
			}
		}
		res = c.validator.ValidateDelete(streamID, expected)
		c.metrics.Decision(res.Decision)
		if res.Decision != es.DecisionOk {
			return nil
		}
		if err := c.index.MarkDeleted(ctx, streamID); err != nil {
			return es.Transient("mark deleted", err)
		}
		c.logger.Info("stream deleted", slog.String("stream", streamID), res.CurrentVersion.SlogAttr())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("commit.decision", res.Decision.String()))
	return &res, nil
}

// CurrentVersion returns the committed version of streamID without waiting
// for appends in progress. Tombstoned streams report es.DeletedVersion.
func (c *Coordinator) CurrentVersion(ctx context.Context, streamID string) (es.Version, error) {
	if err := c.index.Warm(ctx, streamID); err != nil {
		return es.NoStream, es.Transient("warm index", err)
	}
	return c.index.CurrentVersion(streamID), nil
}

// inSection runs fn in the critical section of streamID. fn receives a
// context that is no longer cancelled by ctx: once a cycle starts it runs to
// completion.
func (c *Coordinator) inSection(ctx context.Context, streamID string, fn func(ctx context.Context) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()

	waiting := c.metrics.Waiting()
	waiting.Inc()
	wait := c.metrics.SectionWait()
	var once sync.Once
	started := func() {
		once.Do(func() {
			waiting.Dec()
			wait.ObserveDuration()
		})
	}
	defer started()

	err := c.sched.DoContext(ctx, streamID, func() error {
		started()
		return fn(context.WithoutCancel(ctx))
	})
	if errors.Is(err, perkey.ErrSchedulerClosed) {
		return ErrClosed
	}
	return err
}

// Close stops accepting appends and waits for queued ones to finish. Index
// updates still being retried once Options.CloseGrace has passed give up, and
// their appends return es.ErrIndexDiverged.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()
	grace := time.NewTimer(c.grace)
	select {
	case <-drained:
	case <-grace.C:
		c.logger.Warn("close grace elapsed, abandoning index updates", slog.Duration("grace", c.grace))
		c.cancel()
		<-drained
	}
	grace.Stop()
	c.cancel()
	c.sched.Close()
	if c.ownIndex != nil {
		c.ownIndex.Close()
	}
}
