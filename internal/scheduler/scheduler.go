package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobby-s-dev/heat-guard/internal/models"
	"github.com/bobby-s-dev/heat-guard/internal/services"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type HeatAssessor interface {
	AssessHeatRisk(ctx context.Context, query string) (*services.HeatReport, error)
}

type TierRecorder interface {
	SetHeatWatchTier(location string, level int)
}

type nopRecorder struct{}

func (nopRecorder) SetHeatWatchTier(string, int) {}

// WatchResult is the outcome of the latest check for one location.
type WatchResult struct {
	Location   string          `json:"location"`
	Tier       models.RiskTier `json:"tier,omitempty"`
	FeelsLikeC float64         `json:"feels_like_c,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
	Error      string          `json:"error,omitempty"`
}

type Status struct {
	Running   bool          `json:"running"`
	Schedule  string        `json:"schedule"`
	Locations []string      `json:"locations"`
	LastRun   time.Time     `json:"last_run"`
	NextRun   time.Time     `json:"next_run"`
	Results   []WatchResult `json:"results"`
}

// Scheduler periodically assesses heat risk for a fixed set of locations.
type Scheduler struct {
	assessor  HeatAssessor
	recorder  TierRecorder
	logger    *zap.Logger
	clock     clockwork.Clock
	cron      *cron.Cron
	entryID   cron.EntryID
	schedule  string
	locations []string
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// runMu keeps checks sequential whether triggered by cron or RunNow.
	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	lastRun time.Time
	results map[string]WatchResult
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

func WithTierRecorder(r TierRecorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// NewScheduler validates schedule, a standard cron spec or a descriptor such
// as "@every 30m", and registers the heat watch job.
func NewScheduler(assessor HeatAssessor, schedule string, locations []string, timeout time.Duration, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		assessor:  assessor,
		recorder:  nopRecorder{},
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		schedule:  schedule,
		locations: locations,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		results:   make(map[string]WatchResult, len(locations)),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{sugar: logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := s.cron.AddFunc(schedule, s.runScheduled)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid heat watch schedule %q: %w", schedule, err)
	}
	s.entryID = id

	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()

	s.logger.Info("Heat watch started",
		zap.String("schedule", s.schedule),
		zap.Strings("locations", s.locations))

	// Run immediately on start
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runScheduled()
	}()
}

// Stop cancels in-flight checks and waits for them until ctx expires. A
// stopped Scheduler cannot be restarted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.cancel()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping heat watch")
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for heat watch to stop: %w", ctx.Err())
	}
}

func (s *Scheduler) runScheduled() {
	start := time.Now()
	results := s.RunNow(s.ctx)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	s.logger.Info("Heat watch run completed",
		zap.Int("locations", len(results)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
}

// RunNow checks every location in order and returns the results. The run is
// bounded by the scheduler timeout as well as ctx; locations not reached
// before either is done are omitted.
func (s *Scheduler) RunNow(ctx context.Context) []WatchResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]WatchResult, 0, len(s.locations))
	for _, location := range s.locations {
		if ctx.Err() != nil {
			s.logger.Warn("Heat watch run interrupted", zap.Error(ctx.Err()))
			break
		}
		results = append(results, s.check(ctx, location))
	}

	s.mu.Lock()
	s.lastRun = s.clock.Now()
	for _, r := range results {
		s.results[r.Location] = r
	}
	s.mu.Unlock()

	return results
}

func (s *Scheduler) check(ctx context.Context, location string) WatchResult {
	result := WatchResult{Location: location}

	report, err := s.assessor.AssessHeatRisk(ctx, location)
	result.CheckedAt = s.clock.Now()
	if err != nil {
		s.logger.Warn("Heat watch check failed",
			zap.String("location", location),
			zap.Error(err))
		result.Error = err.Error()
		return result
	}

	result.Tier = report.Risk.Tier
	result.FeelsLikeC = report.Risk.FeelsLikeC

	level := services.TierLevel(report.Risk.Tier)
	s.recorder.SetHeatWatchTier(location, level)

	fields := []zap.Field{
		zap.String("location", location),
		zap.String("tier", string(report.Risk.Tier)),
		zap.Float64("feels_like", report.Risk.FeelsLikeC),
	}
	if level >= services.TierLevel(models.TierWarning) {
		s.logger.Warn("Heat alert", fields...)
	} else {
		s.logger.Debug("Heat watch check", fields...)
	}

	return result
}

func (s *Scheduler) GetStatus() Status {
	next := s.cron.Entry(s.entryID).Next

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]WatchResult, 0, len(s.results))
	for _, location := range s.locations {
		if r, ok := s.results[location]; ok {
			results = append(results, r)
		}
	}

	return Status{
		Running:   s.running,
		Schedule:  s.schedule,
		Locations: s.locations,
		LastRun:   s.lastRun,
		NextRun:   next,
		Results:   results,
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
