package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rezonia/invoice-compliance/internal/authority"
	"github.com/rezonia/invoice-compliance/internal/compliance"
	"github.com/rezonia/invoice-compliance/internal/config"
	"github.com/rezonia/invoice-compliance/internal/events"
	"github.com/rezonia/invoice-compliance/internal/metrics"
	"github.com/rezonia/invoice-compliance/internal/queue"
	"github.com/rezonia/invoice-compliance/internal/secrets"
	"github.com/rezonia/invoice-compliance/internal/store"
	"github.com/rezonia/invoice-compliance/internal/store/gormstore"
)

// app holds the wired components of a long-running command
type app struct {
	store   store.Store
	queue   queue.Queue
	metrics *metrics.Metrics
	service *compliance.Service

	closers []func() error
}

// relay forwards queue attempts to the service once it exists; the queue
// must be built before the service that enqueues onto it
type relay struct {
	mu     sync.RWMutex
	target queue.Observer
}

func (r *relay) set(o queue.Observer) {
	r.mu.Lock()
	r.target = o
	r.mu.Unlock()
}

func (r *relay) JobFinished(job queue.Job, outcome queue.Outcome, err error) {
	r.mu.RLock()
	target := r.target
	r.mu.RUnlock()
	if target != nil {
		target.JobFinished(job, outcome, err)
	}
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	st, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = st
	if gs, ok := st.(*gormstore.Store); ok {
		a.closers = append(a.closers, gs.Close)
	}

	decrypter, err := openDecrypter(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	sink, err := openSink(cfg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}

	forward := &relay{}
	q, err := queue.New(cfg.QueueConfig(),
		queue.WithLogger(log),
		queue.WithObserver(queue.Observers{a.metrics, forward}),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create queue: %w", err)
	}
	a.queue = q
	a.closers = append(a.closers, q.Close)
	a.metrics.ObserveQueue(func() int { return q.Size(context.Background()) })

	client := authority.NewClient(cfg.AuthorityConfig(), authority.WithLogger(log))
	a.service = compliance.New(st, client,
		compliance.WithDecrypter(decrypter),
		compliance.WithQueue(q),
		compliance.WithEventSink(sink),
		compliance.WithMetrics(a.metrics),
		compliance.WithLogger(log),
		compliance.WithBreakerConfig(cfg.BreakerConfig()),
		compliance.WithRetryConfig(cfg.RetryConfig()),
	)
	forward.set(a.service)

	log.Info().
		Bool("postgres", cfg.Database.DSN != "").
		Bool("redis", cfg.Redis.Addr != "").
		Bool("nats", cfg.NATS.URL != "").
		Msg("compliance pipeline wired")
	return a, nil
}

func openStore(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("no database configured: using the in-memory store")
		return store.NewMemory(), nil
	}
	st, err := gormstore.Open(cfg.Database.DSN, gormstore.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func openDecrypter(cfg *config.Config, log zerolog.Logger) (secrets.Decrypter, error) {
	if cfg.Secrets.Key == "" {
		log.Warn().Msg("no secrets key configured: tenant secrets are read as plain text")
		return secrets.Plaintext{}, nil
	}
	box, err := secrets.NewSecretBoxFromString(cfg.Secrets.Key)
	if err != nil {
		return nil, fmt.Errorf("secrets key: %w", err)
	}
	return box, nil
}

func openSink(cfg *config.Config, log zerolog.Logger, a *app) (events.Sink, error) {
	logSink := events.NewLogSink(log)
	if cfg.NATS.URL == "" {
		return logSink, nil
	}
	natsSink, conn, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		return conn.Drain()
	})
	return events.Multi{logSink, natsSink}, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
