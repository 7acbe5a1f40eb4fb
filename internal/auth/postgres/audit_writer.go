// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/pkg/errutil"
)

// Audit writer defaults.
const (
	DefaultAuditBatchSize   = 100
	DefaultAuditFlushPeriod = time.Second
	DefaultAuditBuffer      = 1000
)

var (
	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_audit_dropped_total",
		Help: "Total number of security log records dropped because the writer was full or closed",
	})

	auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_audit_write_failures_total",
		Help: "Total number of security log batches that could not be written",
	})

	snapshotDecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_snapshot_decode_failures_total",
		Help: "Total number of stored snapshots replaced by defaults because they could not be decoded",
	})
)

// RegisterMetrics registers the repository and security log writer metrics
// with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(auditDropped, auditFailures, snapshotDecodeFailures)
}

// AuditWriterConfig tunes an AuditWriter. Zero values take defaults.
type AuditWriterConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	Buffer      int
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// AuditWriter appends security log records to the security_log table in
// batches. Record never blocks; records that do not fit the buffer are
// dropped and counted.
type AuditWriter struct {
	db          DB
	batchSize   int
	flushPeriod time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger

	records chan auth.AuditRecord
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

// NewAuditWriter creates an AuditWriter and starts its batch consumer.
func NewAuditWriter(db DB, cfg AuditWriterConfig) *AuditWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultAuditBatchSize
	}
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = DefaultAuditFlushPeriod
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultAuditBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	w := &AuditWriter{
		db:          db,
		batchSize:   cfg.BatchSize,
		flushPeriod: cfg.FlushPeriod,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		records:     make(chan auth.AuditRecord, cfg.Buffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go w.consume()
	return w
}

// Record implements auth.AuditSink.
func (w *AuditWriter) Record(rec auth.AuditRecord) {
	if w.closed.Load() {
		auditDropped.Inc()
		return
	}
	select {
	case w.records <- rec:
	default:
		auditDropped.Inc()
	}
}

// Prune deletes security log records older than cutoff.
func (w *AuditWriter) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := w.db.Exec(ctx, `DELETE FROM security_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("AUDIT_PRUNE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Close stops accepting records, writes what is buffered and waits for the
// consumer to finish or ctx to end.
func (w *AuditWriter) Close(ctx context.Context) error {
	w.once.Do(func() {
		w.closed.Store(true)
		close(w.stop)
	})
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return oops.Code("AUDIT_CLOSE_TIMEOUT").Wrap(ctx.Err())
	}
}

func (w *AuditWriter) consume() {
	defer close(w.done)

	ticker := w.clock.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	batch := make([]auth.AuditRecord, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := w.writeBatch(ctx, batch); err != nil {
			auditFailures.Inc()
			errutil.LogError(w.logger, "failed to write security log batch", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.records:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.Chan():
			flush()
		case <-w.stop:
			for {
				select {
				case rec := <-w.records:
					batch = append(batch, rec)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch inserts records with one statement over unnested arrays.
func (w *AuditWriter) writeBatch(ctx context.Context, records []auth.AuditRecord) error {
	n := len(records)
	var (
		ids      = make([]string, n)
		actors   = make([]string, n)
		sources  = make([]string, n)
		actions  = make([]string, n)
		success  = make([]bool, n)
		details  = make([]string, n)
		occurred = make([]time.Time, n)
	)
	for i, rec := range records {
		ids[i] = ulid.MustNew(ulid.Timestamp(rec.At), ulid.DefaultEntropy()).String()
		actors[i] = rec.Actor
		sources[i] = rec.Source
		actions[i] = string(rec.Action)
		success[i] = rec.Success
		details[i] = rec.Details
		occurred[i] = rec.At
	}

	_, err := w.db.Exec(ctx, `
		INSERT INTO security_log (id, actor, source_address, action_type, success, details, occurred_at)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::bool[], $6::text[], $7::timestamptz[])
	`, ids, actors, sources, actions, success, details, occurred)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("count", n).Wrap(err)
	}
	return nil
}

var (
	_ auth.AuditSink   = (*AuditWriter)(nil)
	_ auth.AuditPruner = (*AuditWriter)(nil)
)
