// Package scheduler triggers the publish loop on a cron or interval schedule.
//
// Runs never overlap: a trigger that fires while the previous run is still
// in progress is skipped.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "newsbot/pkg/logx"
)

const DefaultSchedule = "30m"

// Job is one scheduled run.
type Job func(ctx context.Context) error

type Config struct {
	Schedule   string
	Timezone   string
	RunOnStart bool
	// JobTimeout bounds a single run. 0 means no bound.
	JobTimeout time.Duration
}

type Service struct {
	name   string
	job    Job
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	spec    ParsedSpec
	c       *cron.Cron
	entry   cron.EntryID
	wrapped cron.Job
	ctx     context.Context
}

func New(name string, cfg Config, job Job, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	s := &Service{
		name: name,
		job:  job,
		log:  log.With(logx.String("comp", "scheduler"), logx.String("job", name)),
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:    cfg,
	}
	spec, err := s.parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s.spec = spec
	return s, nil
}

func (s *Service) parse(raw string) (ParsedSpec, error) {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := s.parser.Parse(spec.CronSpec()); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
	}
	return spec, nil
}

// Start begins triggering. Jobs receive ctx (bounded by JobTimeout).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}

	s.ctx = ctx
	cl := cronLogger{log: s.log}
	s.wrapped = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.runJob))
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithLogger(cl))
	id, err := s.c.AddJob(s.spec.CronSpec(), s.wrapped)
	if err != nil {
		s.c = nil
		return err
	}
	s.entry = id
	s.c.Start()
	s.log.Info("schedule started", logx.String("schedule", s.spec.String()), logx.Time("next", s.c.Entry(id).Next))

	if s.cfg.RunOnStart {
		go s.wrapped.Run()
	}
	return nil
}

func (s *Service) runJob() {
	s.mu.Lock()
	ctx := s.ctx
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.log.Warn("scheduled run failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled run done", logx.Duration("took", time.Since(start)))
}

// Trigger runs the job now, subject to the same overlap rule.
func (s *Service) Trigger() {
	s.mu.Lock()
	j := s.wrapped
	s.mu.Unlock()
	if j != nil {
		go j.Run()
	}
}

// Check reports whether raw would be accepted by Reschedule.
func (s *Service) Check(raw string) error {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultSchedule
	}
	_, err := s.parse(raw)
	return err
}

// Reschedule swaps the schedule of a started service.
func (s *Service) Reschedule(raw string) error {
	spec, err := s.parse(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec {
		return nil
	}
	s.spec = spec
	s.cfg.Schedule = raw
	if s.c == nil {
		return nil
	}
	s.c.Remove(s.entry)
	id, err := s.c.AddJob(spec.CronSpec(), s.wrapped)
	if err != nil {
		return err
	}
	s.entry = id
	s.log.Info("schedule changed", logx.String("schedule", spec.String()))
	return nil
}

// Schedule returns the active schedule.
func (s *Service) Schedule() ParsedSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Stop halts triggering and waits for a running job, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
