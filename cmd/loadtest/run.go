package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	promadapter "github.com/codewandler/eventstore-go/adapters/prometheus"
	"github.com/codewandler/eventstore-go/core/commit"
	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/core/index"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

type loadGenerated struct {
	Writer int `json:"writer"`
	Batch  int `json:"batch"`
	Seq    int `json:"seq"`
}

type report struct {
	Backend   string
	Took      time.Duration
	Appends   int64
	Events    int64
	Retryable int64

	mu        sync.Mutex
	Decisions map[es.CommitDecision]int64
}

func (r *report) decision(d es.CommitDecision) {
	r.mu.Lock()
	r.Decisions[d]++
	r.mu.Unlock()
}

func (r *report) Print(w io.Writer) {
	fmt.Fprintf(w, "backend:        %s\n", r.Backend)
	fmt.Fprintf(w, "total runtime:  %.3f s\n", r.Took.Seconds())
	fmt.Fprintf(w, "appends:        %d\n", r.Appends)
	fmt.Fprintf(w, "events written: %d\n", r.Events)
	fmt.Fprintf(w, "retryable errs: %d\n", r.Retryable)
	if r.Took > 0 {
		fmt.Fprintf(w, "avg. appends/s: %d\n", int(float64(r.Appends)/r.Took.Seconds()))
		fmt.Fprintf(w, "avg. events/s:  %d\n", int(float64(r.Events)/r.Took.Seconds()))
	}

	decisions := make([]es.CommitDecision, 0, len(r.Decisions))
	for d := range r.Decisions {
		decisions = append(decisions, d)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i] < decisions[j] })
	for _, d := range decisions {
		fmt.Fprintf(w, "  %-22s %d\n", d.String()+":", r.Decisions[d])
	}
}

func streamName(i int) string { return fmt.Sprintf("load-%d", i) }

// run drives cfg.Writers concurrent writers through one coordinator and
// checks afterwards that every stream head matches the events written.
func run(ctx context.Context, cfg Config, log *slog.Logger, reg prometheus.Registerer) (*report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer b.closer()

	metrics := promadapter.NewAllMetrics(reg)
	idxOpts := []index.Option{
		index.WithLogger(log),
		index.WithMetrics(metrics.Index),
		index.WithTombstones(index.NewKVTombstones(b.kv)),
	}
	if r, ok := b.log.(eventlog.Reader); ok {
		idxOpts = append(idxOpts, index.WithLoader(r))
	}
	idx := index.New(idxOpts...)
	defer idx.Close()
	if err := idx.LoadTombstones(ctx); err != nil {
		return nil, fmt.Errorf("load tombstones: %w", err)
	}

	tracer, shutdownTracing, err := newTracer(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("flush traces", slog.Any("error", err))
		}
	}()

	c, err := commit.New(commit.Options{
		Log:     b.log,
		Index:   idx,
		Logger:  log,
		Metrics: metrics.Commit,
		Tracer:  tracer,
	})
	if err != nil {
		return nil, err
	}
	defer c.Close()

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, cfg.Writers)

	rep := &report{Backend: cfg.Backend, Decisions: make(map[es.CommitDecision]int64)}
	var appends, events, retryable atomic.Int64
	written := make([]atomic.Int64, cfg.Streams)

	log.Info("load test starting",
		slog.String("backend", cfg.Backend),
		slog.Int("streams", cfg.Streams),
		slog.Int("writers", cfg.Writers),
		slog.Int("batches", cfg.Batches),
		slog.Int("batch_size", cfg.BatchSize),
	)

	base := make([]int64, cfg.Streams)
	for s := range base {
		v, err := c.CurrentVersion(ctx, streamName(s))
		if err != nil {
			return nil, err
		}
		base[s] = int64(v) + 1
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Writers; w++ {
		g.Go(func() error {
			var (
				prev         []es.Event
				prevStream   int
				prevExpected es.ExpectedVersion
			)
			for i := 0; i < cfg.Batches; i++ {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}

				stream := (w + i*cfg.Writers) % cfg.Streams
				expected := es.Any()
				batch := prev
				if prev == nil || rand.Float64() >= cfg.Replay {
					batch = make([]es.Event, cfg.BatchSize)
					for j := range batch {
						e, err := es.NewEvent("LoadGenerated", loadGenerated{Writer: w, Batch: i, Seq: j})
						if err != nil {
							return err
						}
						batch[j] = e
					}
				} else {
					stream, expected = prevStream, prevExpected
				}

				res, err := c.Append(gctx, streamName(stream), expected, batch)
				appends.Add(1)
				if err != nil {
					if es.IsRetryable(err) {
						retryable.Add(1)
						continue
					}
					return fmt.Errorf("writer %d: %w", w, err)
				}
				rep.decision(res.Decision)
				if res.Decision == es.DecisionOk {
					events.Add(int64(len(batch)))
					written[stream].Add(int64(len(batch)))
					prev, prevStream = batch, stream
					prevExpected = es.Expect(res.StartEventNumber - 1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rep.Took = time.Since(start)
	rep.Appends, rep.Events, rep.Retryable = appends.Load(), events.Load(), retryable.Load()

	// heads must account for exactly the events acknowledged with Ok
	var errs []error
	for s := range written {
		v, err := c.CurrentVersion(ctx, streamName(s))
		if err != nil {
			return nil, err
		}
		if v == es.DeletedVersion {
			continue
		}
		if got, want := int64(v)+1-base[s], written[s].Load(); got != want {
			errs = append(errs, fmt.Errorf("stream %s: head at %d events, %d written", streamName(s), got, want))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return rep, err
	}

	log.Info("load test finished", slog.Duration("took", rep.Took), slog.Int64("events", rep.Events))
	return rep, nil
}
