// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

const (
	recordPrefix = "autocorrect/record/"
	idPrefix     = "autocorrect/id/"
)

// StoreConfig configures a BadgerLog.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the log in memory only. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every append.
	SyncWrites bool

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultStoreConfig returns durable defaults for path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryStoreConfig returns a configuration for tests.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerLog
// =============================================================================

// BadgerLog persists records in BadgerDB.
//
// Records are msgpack-encoded under "autocorrect/record/<seq>" with the
// sequence zero-padded so key order is append order. A secondary key
// "autocorrect/id/<id>" maps record ids to their sequence key.
//
// Thread Safety: Safe for concurrent use. Appends are serialized so
// sequence numbers are assigned without gaps.
type BadgerLog struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger

	mu     sync.Mutex
	seq    uint64
	closed bool
	now    func() time.Time
}

// OpenBadgerLog opens or creates a log.
//
// Description:
//
//	Opens the database, restores the last sequence number and starts value
//	log GC when configured.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is set.
//
// Outputs:
//
//	*BadgerLog - The opened log. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func OpenBadgerLog(cfg StoreConfig) (*BadgerLog, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent audit log")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit log directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &BadgerLog{
		db:     db,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
	if err := l.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restore audit sequence: %w", err)
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		l.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, l.logger)
		l.gc.start()
	}
	return l, nil
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", recordPrefix, seq))
}

func parseRecordKey(key []byte) (uint64, bool) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(recordPrefix):]), "%016d", &seq); err != nil {
		return 0, false
	}
	return seq, true
}

// restoreSeq finds the highest stored sequence number.
func (l *BadgerLog) restoreSeq() error {
	prefix := []byte(recordPrefix)
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if it.ValidForPrefix(prefix) {
			if seq, ok := parseRecordKey(it.Item().Key()); ok {
				l.seq = seq
			}
		}
		return nil
	})
}

func encodeRecord(rec fix.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (fix.Record, error) {
	var rec fix.Record
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&rec); err != nil {
		return fix.Record{}, err
	}
	return rec, nil
}

// Append implements Log.
func (l *BadgerLog) Append(ctx context.Context, rec fix.Record) (fix.Record, error) {
	if err := ctx.Err(); err != nil {
		return fix.Record{}, err
	}

	ctx, span := otel.Tracer("autocorrect.audit").Start(ctx, "audit.Append",
		trace.WithAttributes(
			attribute.String("audit.file", rec.File),
			attribute.String("audit.decision", rec.Decision.String()),
		),
	)
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fix.Record{}, ErrClosed
	}

	rec = prepare(rec, l.seq+1, l.now())
	data, err := encodeRecord(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fix.Record{}, fmt.Errorf("encode record: %w", err)
	}

	key := recordKey(rec.Seq)
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(idPrefix+rec.ID), key)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fix.Record{}, fmt.Errorf("write record: %w", err)
	}
	l.seq = rec.Seq

	span.SetAttributes(attribute.Int64("audit.seq", int64(rec.Seq)))
	l.logger.Debug("record appended",
		slog.Uint64("seq", rec.Seq),
		slog.String("decision", rec.Decision.String()),
		slog.Int("bytes", len(data)))
	return rec, nil
}

// Get implements Log.
func (l *BadgerLog) Get(ctx context.Context, id string) (fix.Record, error) {
	if err := l.checkOpen(ctx); err != nil {
		return fix.Record{}, err
	}
	var rec fix.Record
	err := l.db.View(func(txn *badger.Txn) error {
		ref, err := txn.Get([]byte(idPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := ref.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	return rec, err
}

// List implements Log.
func (l *BadgerLog) List(ctx context.Context, q Query) ([]fix.Record, error) {
	if err := l.checkOpen(ctx); err != nil {
		return nil, err
	}
	out := make([]fix.Record, 0)
	prefix := []byte(recordPrefix)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(recordKey(q.AfterSeq + 1)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec fix.Record
			err := it.Item().Value(func(val []byte) error {
				var derr error
				rec, derr = decodeRecord(val)
				return derr
			})
			if err != nil {
				l.logger.Warn("skipping undecodable record",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()))
				continue
			}
			if !q.Match(rec) {
				continue
			}
			out = append(out, rec)
			if q.Limit > 0 && len(out) == q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *BadgerLog) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// Seq returns the sequence number of the last appended record.
func (l *BadgerLog) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close stops GC and closes the database. Safe to call more than once.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.gc != nil {
		l.gc.stop()
	}
	return l.db.Close()
}

// =============================================================================
// Value log GC
// =============================================================================

type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing worth collecting.
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("audit log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
