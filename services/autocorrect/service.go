// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package autocorrect assembles the auto-correction engine into a service
// and exposes it over HTTP for IDE clients.
package autocorrect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/bridge"
	"github.com/AleutianAI/autocorrect/services/autocorrect/codegen"
	"github.com/AleutianAI/autocorrect/services/autocorrect/config"
	"github.com/AleutianAI/autocorrect/services/autocorrect/detect"
	"github.com/AleutianAI/autocorrect/services/autocorrect/engine"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fileio"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/queue"
	"github.com/AleutianAI/autocorrect/services/autocorrect/safety"
	"github.com/AleutianAI/autocorrect/services/autocorrect/strategy"
	"github.com/AleutianAI/autocorrect/services/autocorrect/supervision"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
	"github.com/AleutianAI/autocorrect/services/autocorrect/watch"
)

// ServiceVersion is the autocorrect service version.
const ServiceVersion = "0.1.0"

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	files  fileio.FileSystem
	log    audit.Log
	logger *slog.Logger
}

// WithFileSystem replaces the workspace file system rooted at cfg.Root.
// The file watcher is disabled for file systems other than
// fileio.OSFileSystem.
func WithFileSystem(files fileio.FileSystem) ServiceOption {
	return func(o *serviceOptions) { o.files = files }
}

// WithAuditLog replaces the badger audit log. The service does not close
// a log passed this way.
func WithAuditLog(log audit.Log) ServiceOption {
	return func(o *serviceOptions) { o.log = log }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = logger }
}

// Service owns every pipeline component.
//
// Thread Safety: Safe for concurrent use after NewService returns. Start
// and Close may each be called once.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	files     fileio.FileSystem
	applier   *fileio.Applier
	log       audit.Log
	ownsLog   bool
	queue     *queue.Queue
	breaker   *supervision.Breaker
	monitor   *supervision.PerformanceMonitor
	analytics *supervision.Analytics
	bus       *supervision.Bus
	analyzer  *analysis.Engine
	library   *strategy.Library
	bridge    *bridge.Bridge
	engine    *engine.Engine
	ingestor  *trigger.Ingestor
	scanner   *detect.Scanner
	feeder    *watch.Feeder
	watcher   *watch.Watcher

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewService builds the pipeline described by cfg.
//
// Outputs:
//
//	*Service - The service, not yet started.
//	error - Configuration failure for an invalid cfg or a component that
//	        refuses its settings; FileOperation failure if the audit log
//	        cannot be opened.
func NewService(cfg config.Config, opts ...ServiceOption) (*Service, error) {
	const op = "autocorrect.NewService"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	s := &Service{cfg: cfg, logger: logger.With("component", "service")}

	s.files = o.files
	if s.files == nil {
		osfs, err := fileio.NewOSFileSystem(cfg.Root)
		if err != nil {
			return nil, err
		}
		s.files = osfs
	}
	s.applier = fileio.NewApplier(s.files,
		fileio.WithLogger(logger),
		fileio.OnWrite(func(path string) {
			if s.analyzer != nil {
				s.analyzer.Invalidate(path)
			}
		}))

	s.log = o.log
	if s.log == nil {
		store := cfg.Audit.ToStoreConfig(cfg.Root, logger)
		if !store.InMemory {
			if err := os.MkdirAll(store.Path, 0o750); err != nil {
				return nil, failure.Wrap(failure.KindFileOperation, op, err)
			}
		}
		bl, err := audit.OpenBadgerLog(store)
		if err != nil {
			return nil, err
		}
		s.log, s.ownsLog = bl, true
	}

	ok := false
	defer func() {
		if !ok {
			s.closeLog()
		}
	}()

	var err error
	if s.queue, err = queue.New(cfg.Queue.ToQueueConfig(), queue.WithLogger(logger)); err != nil {
		return nil, err
	}

	s.monitor = supervision.NewPerformanceMonitor(supervision.DefaultLatencySamples)
	s.analytics = supervision.NewAnalytics()
	s.bus = supervision.NewBus(s.monitor, s.analytics)
	if s.breaker, err = supervision.NewBreaker(cfg.Breaker,
		supervision.WithBreakerLogger(logger),
		supervision.WithBreakerBus(s.bus)); err != nil {
		return nil, err
	}
	s.bus.Subscribe(s.breaker)

	parsers := ast.DefaultRegistry()
	if s.analyzer, err = analysis.NewEngine(s.applier, parsers, cfg.Analysis.ToEngineConfig(),
		analysis.WithLatencyObserver(s.bus),
		analysis.WithLogger(logger)); err != nil {
		return nil, err
	}

	index, err := s.moduleIndex()
	if err != nil {
		s.logger.Warn("module index unavailable, import suggestions limited to the standard library",
			slog.String("error", err.Error()))
	}
	if s.library, err = strategy.DefaultLibrary(cfg.Strategy.Threshold, index,
		strategy.WithTimeout(cfg.Strategy.Timeout),
		strategy.WithObserver(s.analytics),
		strategy.WithLogger(logger)); err != nil {
		return nil, err
	}

	materializer, err := codegen.NewMaterializer(parsers, codegen.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	classifier, err := safety.NewClassifier(cfg.Safety)
	if err != nil {
		return nil, err
	}
	if s.bridge, err = bridge.New(s.applier, s.log,
		bridge.WithMaxPending(cfg.Bridge.MaxPending),
		bridge.WithLogger(logger)); err != nil {
		return nil, err
	}
	gate, err := safety.NewGate(s.applier, s.bridge, s.log, safety.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if s.engine, err = engine.New(cfg.Engine, engine.Deps{
		Queue:        s.queue,
		Analyzer:     s.analyzer,
		Strategies:   s.library,
		Materializer: materializer,
		Classifier:   classifier,
		Gate:         gate,
		Breaker:      s.breaker,
		Bus:          s.bus,
	}, engine.WithLogger(logger)); err != nil {
		return nil, err
	}

	s.ingestor = trigger.NewIngestor(s.applier)
	if s.scanner, err = detect.NewScanner(parsers, detect.WithLogger(logger)); err != nil {
		return nil, err
	}

	if osfs, isOS := s.files.(*fileio.OSFileSystem); isOS {
		s.feeder = watch.NewFeeder(osfs, s.scanner, s.queue, s.analyzer, logger)
		if cfg.Watch.Enabled {
			if s.watcher, err = watch.NewWatcher(osfs.Root(), s.feeder.Handle, cfg.Watch.Options, logger); err != nil {
				return nil, err
			}
		}
	} else {
		s.feeder = watch.NewFeeder(relFiles{s.files}, s.scanner, s.queue, s.analyzer, logger)
	}

	ok = true
	return s, nil
}

// relFiles adapts a FileSystem whose paths are already workspace-relative.
type relFiles struct {
	fileio.FileSystem
}

func (relFiles) Rel(path string) (string, error) {
	return filepath.ToSlash(path), nil
}

// moduleIndex indexes go.mod and the module's package directories.
func (s *Service) moduleIndex() (*strategy.ModuleIndex, error) {
	content, err := s.files.Read("go.mod")
	if err != nil {
		return nil, err
	}
	index, err := strategy.ParseModuleIndex(content)
	if err != nil {
		return nil, err
	}
	osfs, isOS := s.files.(*fileio.OSFileSystem)
	if !isOS {
		return index, nil
	}
	root := osfs.Root()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
				name == "vendor" || name == "testdata" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
			if rel, err := filepath.Rel(root, filepath.Dir(path)); err == nil && rel != "." {
				index.AddPackage(filepath.ToSlash(rel))
			}
		}
		return nil
	})
	return index, err
}

// Start launches the supervision loop, the dedup janitor, the workers and
// the file watcher when enabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil {
		return errors.New("service already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	if err := s.engine.Start(gctx); err != nil {
		s.cancel()
		return err
	}
	s.group = g

	g.Go(func() error {
		if err := s.breaker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("breaker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.queue.RunJanitor(gctx, s.cfg.Queue.JanitorInterval)
		return nil
	})
	if s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}
	s.logger.Info("autocorrect service started",
		slog.String("root", s.cfg.Root),
		slog.Int("workers", s.cfg.Engine.Workers),
		slog.Bool("watch", s.watcher != nil))
	return nil
}

// Drain closes the queue and waits for the workers to finish what it
// holds. Submissions after Drain fail with queue.ErrClosed.
func (s *Service) Drain() {
	s.queue.Close()
	s.engine.Wait()
}

// Close stops every background loop and releases the audit log.
func (s *Service) Close() error {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	s.queue.Close()
	s.engine.Stop()
	if cancel != nil {
		cancel()
	}
	var errs []error
	if group != nil {
		if err := group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeLog(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeLog() error {
	if s.ownsLog && s.log != nil {
		return s.log.Close()
	}
	return nil
}

// =============================================================================
// Trigger intake
// =============================================================================

// SubmitResult reports the fate of one trigger submission.
type SubmitResult struct {
	TriggerID string `json:"trigger_id,omitempty"`
	File      string `json:"file,omitempty"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// SubmitSummary counts a batch of submissions.
type SubmitSummary struct {
	Accepted     int            `json:"accepted"`
	Deduplicated int            `json:"deduplicated"`
	Failed       int            `json:"failed"`
	Results      []SubmitResult `json:"results"`
}

func (sum *SubmitSummary) add(r SubmitResult) {
	switch r.Outcome {
	case queue.Accepted.String():
		sum.Accepted++
	case queue.Deduplicated.String():
		sum.Deduplicated++
	default:
		sum.Failed++
	}
	sum.Results = append(sum.Results, r)
}

// Submit queues triggers for the workers.
func (s *Service) Submit(ctx context.Context, triggers []*trigger.Trigger) SubmitSummary {
	var sum SubmitSummary
	for _, t := range triggers {
		r := SubmitResult{TriggerID: t.ID(), File: t.File()}
		out, err := s.queue.Submit(ctx, t)
		if err != nil {
			r.Outcome, r.Error = "failed", err.Error()
		} else {
			r.Outcome = out.String()
		}
		sum.add(r)
	}
	return sum
}

// IngestDiagnostics turns diagnostic records into triggers and queues
// them. Records that cannot be mapped are reported, not fatal.
func (s *Service) IngestDiagnostics(ctx context.Context, recs []trigger.DiagnosticRecord) SubmitSummary {
	triggers, errs := s.ingestor.FromRecords(recs)
	sum := s.Submit(ctx, triggers)
	for _, err := range errs {
		sum.add(SubmitResult{Outcome: "failed", Error: err.Error()})
	}
	return sum
}

// Scan runs the pattern and anomaly detectors over files and queues what
// they find. Paths are workspace-relative.
func (s *Service) Scan(ctx context.Context, files []string) error {
	var errs []error
	for _, f := range files {
		if !s.scanner.Supports(f) {
			continue
		}
		if err := s.feeder.Feed(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// ProcessNow runs triggers through the pipeline synchronously, bypassing
// the queue. Triggers of one file are processed from the end of the file
// backwards so an applied edit does not move the spans still to come; each
// later trigger is rebased onto the file as the earlier edits left it.
// Start must have been called so the breaker evaluates outcomes.
func (s *Service) ProcessNow(ctx context.Context, triggers []*trigger.Trigger) ([]fix.Record, error) {
	ordered := make([]*trigger.Trigger, len(triggers))
	copy(ordered, triggers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].File() != ordered[j].File() {
			return ordered[i].File() < ordered[j].File()
		}
		return ordered[i].Span().Start > ordered[j].Span().Start
	})

	var (
		records   []fix.Record
		errs      []error
		originals = make(map[string][]byte)
	)
	for _, t := range ordered {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		t = s.rebase(t, originals)
		rec, err := s.engine.Process(ctx, t)
		if rec.Seq > 0 {
			records = append(records, rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.File(), err))
		}
	}
	return records, errors.Join(errs...)
}

// rebase carries t over to the current content of its file. originals
// holds each file's content as first seen by ProcessNow. A file that
// cannot be read is left to the pipeline to report.
func (s *Service) rebase(t *trigger.Trigger, originals map[string][]byte) *trigger.Trigger {
	current, err := s.applier.Read(t.File())
	if err != nil {
		return t
	}
	before, seen := originals[t.File()]
	if !seen {
		originals[t.File()] = current
		return t
	}
	rebased, ok := trigger.Rebase(t, before, current)
	if !ok {
		s.logger.Debug("trigger not rebased",
			slog.String("trigger", t.ID()),
			slog.String("file", t.File()))
	}
	return rebased
}

// Ingestor returns the diagnostic ingestor.
func (s *Service) Ingestor() *trigger.Ingestor { return s.ingestor }

// Scanner returns the pattern and anomaly scanner.
func (s *Service) Scanner() *detect.Scanner { return s.scanner }

// Bridge returns the IDE bridge.
func (s *Service) Bridge() *bridge.Bridge { return s.bridge }

// AuditLog returns the fix application log.
func (s *Service) AuditLog() audit.Log { return s.log }

// Config returns the service configuration.
func (s *Service) Config() config.Config { return s.cfg }

// =============================================================================
// Status
// =============================================================================

// Status is a point-in-time view of the service.
type Status struct {
	Version   string                              `json:"version"`
	Breaker   supervision.BreakerStats            `json:"breaker"`
	Queue     queue.Stats                         `json:"queue"`
	Cache     analysis.CacheStats                 `json:"cache"`
	Pending   int                                 `json:"pending_actions"`
	Feeder    watch.FeederStats                   `json:"feeder"`
	Latency   map[string]supervision.LatencyStats `json:"latency"`
	Analytics supervision.AnalyticsSnapshot       `json:"analytics"`
	Watching  bool                                `json:"watching"`
	Strategy  []string                            `json:"strategies"`
}

// Status returns the current status.
func (s *Service) Status() Status {
	return Status{
		Version:   ServiceVersion,
		Breaker:   s.breaker.Stats(),
		Queue:     s.queue.Stats(),
		Cache:     s.analyzer.CacheStats(),
		Pending:   len(s.bridge.Pending("")),
		Feeder:    s.feeder.Stats(),
		Latency:   s.monitor.Snapshot(),
		Analytics: s.analytics.Snapshot(),
		Watching:  s.watcher != nil,
		Strategy:  s.library.Names(),
	}
}

// ResetBreaker forces the breaker Closed.
func (s *Service) ResetBreaker(ctx context.Context) error {
	return s.breaker.Reset(ctx)
}
