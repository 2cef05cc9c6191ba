// Package trigger starts workflows whose triggers carry a cron schedule.
package trigger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/model"
)

// RunFunc starts one scheduled run of a workflow.
type RunFunc func(ctx context.Context, workflowID string) model.Response

// Entry describes one registered schedule.
type Entry struct {
	WorkflowID string `json:"workflowId"`
	Schedule   string `json:"schedule"`
	entryID    cron.EntryID
}

// Scheduler owns a cron runner and the schedules registered from workflow
// triggers. Sync replaces the registered schedules; a run already in
// progress is not interrupted.
type Scheduler struct {
	run    RunFunc
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries []Entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Scheduler that calls run whenever a schedule fires.
func New(run RunFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:    run,
		logger: logger.Named("scheduler"),
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins dispatching schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts the cron runner, cancels running scheduled workflows, and waits
// for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Sync registers a schedule for every "schedule:" trigger of each enabled
// workflow, removing schedules registered by a previous call. Invalid
// expressions are logged and skipped.
func (s *Scheduler) Sync(workflows []model.Workflow) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		s.cron.Remove(e.entryID)
	}
	s.entries = nil

	for _, wf := range workflows {
		if !wf.IsEnabled() {
			continue
		}
		for _, trigger := range wf.Triggers {
			spec, ok := strings.CutPrefix(trigger, model.TriggerSchedulePrefix)
			if !ok {
				continue
			}
			spec = strings.TrimSpace(spec)
			id, err := s.cron.AddJob(spec, s.job(wf.ID))
			if err != nil {
				s.logger.Warn("invalid schedule",
					zap.String("workflow_id", wf.ID),
					zap.String("schedule", spec),
					zap.Error(err),
				)
				continue
			}
			s.entries = append(s.entries, Entry{WorkflowID: wf.ID, Schedule: spec, entryID: id})
		}
	}

	s.logger.Info("schedules synced", zap.Int("count", len(s.entries)))
	return len(s.entries)
}

// Entries returns the registered schedules ordered by workflow id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

func (s *Scheduler) job(workflowID string) cron.Job {
	return cron.FuncJob(func() {
		resp := s.run(s.ctx, workflowID)
		if !resp.Success {
			s.logger.Warn("scheduled run failed",
				zap.String("workflow_id", workflowID),
				zap.String("code", resp.Code),
				zap.String("error", resp.Error),
			)
			return
		}
		s.logger.Info("scheduled run finished", zap.String("workflow_id", workflowID))
	})
}

// fire runs the job registered for entry immediately.
func (s *Scheduler) fire(e Entry) {
	s.cron.Entry(e.entryID).Job.Run()
}
