// Package refresh loads the historical export and periodically rebuilds the
// live interval set from the check-out sheets.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"borrow-analytics-backend/config"
	"borrow-analytics-backend/internal/event"
	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/metrics"
	"borrow-analytics-backend/internal/model"
	"borrow-analytics-backend/internal/parse"
	"borrow-analytics-backend/internal/source"
	"borrow-analytics-backend/internal/store"
)

// Run kinds recorded in refresh_runs.
const (
	KindHistorical = "historical"
	KindRealtime   = "realtime"
)

var (
	ErrNoLiveSource       = errors.New("no live source configured")
	ErrNoHistoricalSource = errors.New("no historical source configured")
)

// LiveSource reads the raw check-out/check-in batches.
type LiveSource interface {
	Load(ctx context.Context) ([]event.Batch, []source.TabResult, error)
}

// HistoricalSource reads the bulk export as ready-made intervals.
type HistoricalSource interface {
	Load() ([]interval.Interval, source.HistoricalReport, error)
}

// Notifier is told about items whose last open borrow was closed.
type Notifier interface {
	Dispatch(itemKey string)
}

// RunSummary describes one finished run.
type RunSummary struct {
	Run        model.RefreshRun
	Returned   []string
	FailedTabs []string
}

// Service orchestrates loads and refreshes. Runs are serialised.
type Service struct {
	cfg        *config.Config
	store      store.Store
	live       LiveSource
	historical HistoricalSource
	normalizer *event.Normalizer
	notifier   Notifier
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu    sync.Mutex
	hooks []func()
	now   func() time.Time
}

// NewService creates a refresh service. live, historical, notifier and m may be nil.
func NewService(cfg *config.Config, st store.Store, live LiveSource, historical HistoricalSource,
	notifier Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		store:      st,
		live:       live,
		historical: historical,
		normalizer: event.NewNormalizer(cfg.Sources.LiveLayout, cfg.Sources.Location, logger),
		notifier:   notifier,
		metrics:    m,
		log:        logger.With().Str("component", "refresh").Logger(),
		now:        time.Now,
	}
}

// OnSuccess registers fn to run after every successful load or refresh,
// e.g. to flush response caches.
func (s *Service) OnSuccess(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Run refreshes once and then on the configured schedule until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Refresh.Enabled {
		s.log.Info().Msg("refresh is disabled, not starting")
		return nil
	}
	if s.live == nil {
		return ErrNoLiveSource
	}

	if spec := s.cfg.Refresh.Cron; spec != "" {
		c := cron.New(cron.WithLocation(s.cfg.Sources.Location))
		if _, err := c.AddFunc(spec, func() { s.refreshLogged(ctx) }); err != nil {
			return fmt.Errorf("invalid refresh cron %q: %w", spec, err)
		}
		s.log.Info().Str("cron", spec).Msg("starting refresh service")
		s.refreshLogged(ctx)
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		s.log.Info().Msg("refresh service shutting down")
		return nil
	}

	s.log.Info().Dur("interval", s.cfg.Refresh.Interval).Msg("starting refresh service")
	s.refreshLogged(ctx)

	timer := time.NewTimer(s.cfg.Refresh.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("refresh service shutting down")
			return nil
		case <-timer.C:
			s.refreshLogged(ctx)
			timer.Reset(s.cfg.Refresh.Interval)
		}
	}
}

func (s *Service) refreshLogged(ctx context.Context) {
	if _, err := s.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("refresh failed")
	}
}

// LoadHistorical replaces the stored historical intervals with a fresh read
// of the export. Stored live intervals that the export now covers are
// removed so no borrow is counted twice.
func (s *Service) LoadHistorical(ctx context.Context) (RunSummary, error) {
	if s.historical == nil {
		return RunSummary{}, ErrNoHistoricalSource
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.startRun(KindHistorical)
	ivs, rep, err := s.historical.Load()
	if err != nil {
		return s.fail(ctx, run, err)
	}
	run.Events = rep.Rows
	for reason, n := range rep.Dropped {
		run.Dropped += n
		s.metrics.AddDropped(reason, n)
	}

	before, err := s.openItems(ctx)
	if err != nil {
		return s.fail(ctx, run, err)
	}
	if err := s.store.ReplaceSource(ctx, interval.SourceHistorical, ivs); err != nil {
		return s.fail(ctx, run, err)
	}
	run.Intervals = len(ivs)
	s.metrics.SetStored(string(interval.SourceHistorical), len(ivs), countOpen(ivs))

	realtime, err := s.store.Query(ctx, store.Filter{Sources: []interval.Source{interval.SourceRealtime}})
	if err != nil {
		return s.fail(ctx, run, err)
	}
	kept := interval.Deduplicate(ivs, realtime)
	if removed := len(realtime) - len(kept); removed > 0 {
		if err := s.store.ReplaceSource(ctx, interval.SourceRealtime, kept); err != nil {
			return s.fail(ctx, run, err)
		}
		run.Duplicates = removed
		s.metrics.AddDuplicates(removed)
		s.metrics.SetStored(string(interval.SourceRealtime), len(kept), countOpen(kept))
	}

	returned := returnedItems(before, ivs, kept)
	s.notify(returned)
	return s.succeed(ctx, run, returned, nil), nil
}

// RefreshOnce rebuilds the live interval set. A failed read leaves the
// stored intervals untouched.
func (s *Service) RefreshOnce(ctx context.Context) (RunSummary, error) {
	if s.live == nil {
		return RunSummary{}, ErrNoLiveSource
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.cfg.Refresh.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	run := s.startRun(KindRealtime)
	s.log.Debug().Str("run", run.ID).Msg("executing refresh cycle")

	batches, tabs, err := s.live.Load(ctx)
	if err != nil {
		return s.fail(ctx, run, err)
	}
	var failedTabs []string
	for _, tr := range tabs {
		if tr.Err != nil {
			failedTabs = append(failedTabs, tr.Tab)
		}
	}

	events, nrep := s.normalizer.Normalize(batches...)
	run.Events = nrep.Accepted
	run.Dropped = nrep.DroppedTotal()
	for reason, n := range nrep.Dropped {
		s.metrics.AddDropped(string(reason), n)
	}

	res, err := interval.ReconstructParallel(ctx, events, interval.SourceRealtime, s.cfg.Refresh.Workers)
	if err != nil {
		return s.fail(ctx, run, err)
	}
	run.Orphans = res.Report.Orphans
	s.metrics.AddOrphans(res.Report.Orphans)

	historical, err := s.store.Query(ctx, store.Filter{Sources: []interval.Source{interval.SourceHistorical}})
	if err != nil {
		return s.fail(ctx, run, err)
	}
	fresh := interval.Deduplicate(historical, res.Intervals)
	run.Duplicates = len(res.Intervals) - len(fresh)
	s.metrics.AddDuplicates(run.Duplicates)

	before, err := s.openItems(ctx)
	if err != nil {
		return s.fail(ctx, run, err)
	}
	if err := s.store.ReplaceSource(ctx, interval.SourceRealtime, fresh); err != nil {
		return s.fail(ctx, run, err)
	}
	run.Intervals = len(fresh)
	s.metrics.SetStored(string(interval.SourceRealtime), len(fresh), countOpen(fresh))

	returned := returnedItems(before, historical, fresh)
	s.notify(returned)

	return s.succeed(ctx, run, returned, failedTabs), nil
}

func (s *Service) startRun(kind string) model.RefreshRun {
	return model.RefreshRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: s.now().UTC(),
	}
}

func (s *Service) succeed(ctx context.Context, run model.RefreshRun, returned, failedTabs []string) RunSummary {
	run.Status = model.RunStatusOK
	s.finish(ctx, &run)
	for _, fn := range s.hooks {
		fn()
	}
	s.log.Info().
		Str("run", run.ID).
		Str("kind", run.Kind).
		Int("events", run.Events).
		Int("intervals", run.Intervals).
		Int("duplicates", run.Duplicates).
		Int("dropped", run.Dropped).
		Int("orphans", run.Orphans).
		Strs("failed_tabs", failedTabs).
		Msg("run finished")
	return RunSummary{Run: run, Returned: returned, FailedTabs: failedTabs}
}

func (s *Service) fail(ctx context.Context, run model.RefreshRun, err error) (RunSummary, error) {
	run.Status = model.RunStatusFailed
	run.Error = err.Error()
	s.finish(ctx, &run)
	return RunSummary{Run: run}, fmt.Errorf("%s run %s: %w", run.Kind, run.ID, err)
}

// finish stamps the run and records it. The record is written with a fresh
// context so timed-out runs still leave a trace.
func (s *Service) finish(ctx context.Context, run *model.RefreshRun) {
	run.FinishedAt = s.now().UTC()
	s.metrics.ObserveRun(run.Kind, run.Status, run.FinishedAt.Sub(run.StartedAt).Seconds())

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.RecordRun(rctx, *run); err != nil {
		s.log.Warn().Err(err).Str("run", run.ID).Msg("failed to record run")
	}
}

// openItems counts open intervals per item key across both sources.
func (s *Service) openItems(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, src := range []interval.Source{interval.SourceHistorical, interval.SourceRealtime} {
		open, err := s.store.OpenItems(ctx, src)
		if err != nil {
			return nil, err
		}
		for item, n := range open {
			out[item] += n
		}
	}
	return out, nil
}

func (s *Service) notify(items []string) {
	if s.notifier == nil || len(items) == 0 {
		return
	}
	for _, item := range items {
		s.notifier.Dispatch(item)
	}
	s.log.Info().Int("items", len(items)).Msg("dispatched availability notifications")
}

// returnedItems lists item keys that had open borrows before and have none
// left in any of the stored sets, in natural order.
func returnedItems(before map[string]int, sets ...[]interval.Interval) []string {
	stillOpen := make(map[string]bool)
	for _, ivs := range sets {
		for _, iv := range ivs {
			if iv.IsOpen() {
				stillOpen[iv.ItemKey] = true
			}
		}
	}
	var out []string
	for item, n := range before {
		if n > 0 && !stillOpen[item] {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return parse.CompareNatural(out[i], out[j]) < 0 })
	return out
}

func countOpen(ivs []interval.Interval) int {
	n := 0
	for _, iv := range ivs {
		if iv.IsOpen() {
			n++
		}
	}
	return n
}
