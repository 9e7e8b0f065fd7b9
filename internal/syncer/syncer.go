// Package syncer moves readings and session records to the external store,
// buffering them locally while the store is unreachable.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/queue"
	"github.com/posturedev/posturelink/internal/rate"
	"github.com/posturedev/posturelink/internal/session"
	"github.com/posturedev/posturelink/internal/store"
)

const (
	DefaultDrainBatch     = 25
	DefaultNoticeInterval = 30 * time.Second
)

// Noticer receives occasional user-facing sync messages. Delivery is
// throttled so repeated failures produce one notice per interval.
type Noticer interface {
	SyncNotice(message string)
}

type Config struct {
	OwnerID        string
	DrainBatch     int
	NoticeInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.DrainBatch <= 0 {
		c.DrainBatch = DefaultDrainBatch
	}
	if c.NoticeInterval <= 0 {
		c.NoticeInterval = DefaultNoticeInterval
	}
}

// Syncer forwards readings to the store, falling back to the local queue
// when remote writes fail. Each successful write also drains part of the
// backlog, so connectivity recovery empties the queue without a dedicated
// retry loop.
type Syncer struct {
	cfg      Config
	store    store.Store
	queue    *queue.Queue
	archiver *Archiver
	noticer  Noticer
	gate     *rate.Gate
	logger   *zap.Logger
	metrics  *Metrics

	now func() time.Time

	pending chan session.Record
}

// New creates a Syncer. store may be nil, in which case every reading is
// buffered locally; archiver and noticer may be nil.
func New(st store.Store, q *queue.Queue, archiver *Archiver, noticer Noticer, cfg Config, logger *zap.Logger, metrics *Metrics) *Syncer {
	cfg.applyDefaults()
	return &Syncer{
		cfg:      cfg,
		store:    st,
		queue:    q,
		archiver: archiver,
		noticer:  noticer,
		gate:     rate.NewGate(cfg.NoticeInterval),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		pending:  make(chan session.Record, 64),
	}
}

// PersistReading writes r as the owner's live reading and appends it to
// history. On failure the reading is buffered and a throttled notice is
// emitted; on success a slice of the backlog is drained.
func (s *Syncer) PersistReading(ctx context.Context, r protocol.Reading) {
	if s.store == nil {
		s.buffer(r, fmt.Errorf("no store configured"))
		return
	}
	if err := s.store.WriteCurrent(ctx, s.cfg.OwnerID, r); err != nil {
		s.buffer(r, err)
		return
	}
	if _, err := s.store.AppendHistory(ctx, s.cfg.OwnerID, r); err != nil {
		s.buffer(r, err)
		return
	}
	s.metrics.remoteWrite()
	s.Drain(ctx)
	s.retrySessions(ctx)
}

// ClearCurrent removes the owner's live reading, used when the device link
// drops. Best effort; a failure here is only logged.
func (s *Syncer) ClearCurrent(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.ClearCurrent(ctx, s.cfg.OwnerID); err != nil {
		s.logger.Warn("failed to clear live reading", zap.Error(err))
	}
}

// PersistSession stores a finalized session record, retrying it alongside
// buffered readings when the store is unreachable.
func (s *Syncer) PersistSession(ctx context.Context, rec session.Record) {
	if s.store == nil {
		s.deferSession(rec)
		return
	}
	id, err := s.store.PutSession(ctx, s.cfg.OwnerID, rec)
	if err != nil {
		s.logger.Warn("session record write failed, will retry", zap.Error(err))
		s.deferSession(rec)
		return
	}
	rec.ID = id
	s.metrics.sessionStored()
	s.logger.Info("session record stored",
		zap.String("session_id", id),
		zap.Int64("duration_ms", rec.DurationMS),
		zap.Int("alert_count", rec.AlertCount))
	s.archive(ctx, rec)
}

// Drain moves up to one batch of buffered readings into history, stopping
// at the first failure. Only the confirmed prefix is dropped.
func (s *Syncer) Drain(ctx context.Context) {
	if s.store == nil || s.queue == nil {
		return
	}
	readings, err := s.queue.Peek(s.cfg.DrainBatch)
	if err != nil {
		s.logger.Error("failed to read offline buffer", zap.Error(err))
		return
	}
	if len(readings) == 0 {
		return
	}
	confirmed := 0
	for _, r := range readings {
		if _, err := s.store.AppendHistory(ctx, s.cfg.OwnerID, r); err != nil {
			s.logger.Warn("drain stopped on remote failure",
				zap.Int("drained", confirmed), zap.Error(err))
			break
		}
		confirmed++
	}
	if confirmed == 0 {
		return
	}
	if err := s.queue.DropFirst(confirmed); err != nil {
		s.logger.Error("failed to trim offline buffer", zap.Error(err))
		return
	}
	s.metrics.drained(confirmed)
	s.observeQueue()
	s.logger.Debug("drained buffered readings", zap.Int("count", confirmed))
}

// QueueLen returns the number of buffered readings.
func (s *Syncer) QueueLen() int {
	if s.queue == nil {
		return 0
	}
	n, err := s.queue.Len()
	if err != nil {
		return 0
	}
	return n
}

func (s *Syncer) buffer(r protocol.Reading, cause error) {
	s.metrics.writeFailed()
	if s.queue == nil {
		s.logger.Error("dropping reading, no offline buffer", zap.Error(cause))
		return
	}
	if err := s.queue.Enqueue(r); err != nil {
		s.logger.Error("failed to buffer reading", zap.Error(err))
		return
	}
	s.metrics.buffered()
	s.observeQueue()
	s.logger.Debug("buffered reading offline", zap.Error(cause))
	if s.noticer != nil && s.gate.Allow(s.now()) {
		s.noticer.SyncNotice("Sync is offline, buffering readings locally")
	}
}

func (s *Syncer) deferSession(rec session.Record) {
	select {
	case s.pending <- rec:
	default:
		s.logger.Error("pending session backlog full, dropping record",
			zap.Int64("started_at", rec.StartedAt))
	}
}

func (s *Syncer) retrySessions(ctx context.Context) {
	for {
		select {
		case rec := <-s.pending:
			id, err := s.store.PutSession(ctx, s.cfg.OwnerID, rec)
			if err != nil {
				s.deferSession(rec)
				return
			}
			rec.ID = id
			s.metrics.sessionStored()
			s.logger.Info("deferred session record stored", zap.String("session_id", id))
			s.archive(ctx, rec)
		default:
			return
		}
	}
}

func (s *Syncer) archive(ctx context.Context, rec session.Record) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveSession(ctx, s.cfg.OwnerID, rec); err != nil {
		s.logger.Warn("session archive upload failed", zap.Error(err))
		return
	}
	s.metrics.archived()
}

func (s *Syncer) observeQueue() {
	if s.queue == nil {
		return
	}
	if n, err := s.queue.Len(); err == nil {
		s.metrics.queueDepth(n)
	}
}
