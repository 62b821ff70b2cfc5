package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/me/pyra/internal/executor"
	"github.com/me/pyra/internal/notify"
	"github.com/me/pyra/internal/params"
	"github.com/me/pyra/internal/slots"
	"github.com/me/pyra/internal/store"
	"github.com/me/pyra/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	TickInterval time.Duration
	// PersistEvery writes the batch store every N ticks.
	PersistEvery int
	// NodeFile describes the slots; a missing file means local slots only.
	NodeFile string
	// DefaultMaxJobs applies when maxjobs is absent or unparsable.
	DefaultMaxJobs int
	// WorkDir names the run in the completion notification.
	WorkDir string
	// NotifyTimeout bounds each notification attempt.
	NotifyTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:   5 * time.Second,
		PersistEvery:   6,
		NodeFile:       slots.DefaultNodeFile,
		DefaultMaxJobs: runtime.NumCPU(),
		NotifyTimeout:  30 * time.Second,
	}
}

// Deps are the collaborators the loop drives.
type Deps struct {
	Params     *params.Store
	Batches    *store.BatchStore
	Supervisor executor.Supervisor
	// Pool is used as-is when set; otherwise it is loaded from NodeFile on
	// the first tick.
	Pool *slots.Pool
	// Notifiers may be nil, in which case nothing is sent.
	Notifiers *notify.Registry
	// History may be nil.
	History store.History
	// Now defaults to time.Now.
	Now func() time.Time
}

// Loop implements the Scheduler interface with a fixed-interval tick.
type Loop struct {
	config   Config
	deps     Deps
	state    *State
	runID    string
	status   atomic.Pointer[Status]
	history  store.History
	now      func() time.Time
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewLoop creates a new scheduler loop.
func NewLoop(cfg Config, deps Deps, logger *slog.Logger) *Loop {
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = 1
	}
	if cfg.DefaultMaxJobs <= 0 {
		cfg.DefaultMaxJobs = runtime.NumCPU()
	}
	l := &Loop{
		config:  cfg,
		deps:    deps,
		state:   newState(),
		runID:   uuid.New().String(),
		history: deps.History,
		now:     deps.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if l.history == nil {
		l.history = store.NopHistory{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.logger = logger.With("component", "scheduler", "run_id", l.runID)
	l.status.Store(&Status{RunID: l.runID, Phase: PhaseStarting, UpdatedAt: l.now().UTC()})
	return l
}

// RunID identifies this run in logs and in the history ledger.
func (l *Loop) RunID() string { return l.runID }

// State exposes the loop-owned state. Only safe between ticks.
func (l *Loop) State() *State { return l.state }

// Status returns the latest published snapshot. Safe from any goroutine.
func (l *Loop) Status() *Status { return l.status.Load() }

// Start runs the loop. The first tick happens immediately. When the run
// finishes or a kill is requested, the enabled notifiers are invoked once
// and the store is written. On cancellation or Stop the store is written
// and running jobs are left alone.
func (l *Loop) Start(ctx context.Context) error {
	defer close(l.doneCh)
	l.logger.Info("scheduler started", "tick_interval", l.config.TickInterval, "persist_every", l.config.PersistEvery)
	l.record(ctx, store.Event{Kind: store.EventRunStart, JobIndex: -1, PID: -1, Slot: -1})

	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	for {
		outcome, err := l.Tick(ctx)
		if err != nil {
			var le *LoadError
			if errors.As(err, &le) {
				l.logger.Error("scheduler cannot start", "error", err)
				return err
			}
			l.logger.Error("tick error", "error", err)
		}
		if outcome != Continue {
			l.finish(ctx, outcome)
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			l.shutdown(PhaseStopped)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			l.shutdown(PhaseStopped)
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends the loop after the current tick and waits for it to exit. It may
// be called more than once.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Tick runs a single scheduling iteration.
func (l *Loop) Tick(ctx context.Context) (Outcome, error) {
	st := l.state

	// Phase 1: slots and batches are loaded once per run.
	if err := l.ensureLoaded(); err != nil {
		return Continue, err
	}

	// Phase 2: pick up params changes.
	l.refreshParams()

	// Phase 3: stop once nothing is pending or running.
	counts := l.deps.Batches.Counts()
	if counts.Remaining() == 0 {
		st.Ticks++
		l.publish(PhaseFinished)
		return Finished, nil
	}

	// Phase 4: service the first batch with work left.
	if b := l.activeBatch(); b != nil {
		l.serviceBatch(ctx, b, counts.Running)
	}

	st.Ticks++

	// Phase 5: periodic persistence.
	if st.Ticks%l.config.PersistEvery == 0 {
		if err := l.deps.Batches.Save(); err != nil {
			l.logger.Error("persist batches", "error", err)
		}
	}

	// Phase 6: operator kill request.
	if st.Params.Has(params.KeyKillJobs) {
		l.killAll(ctx)
		l.publish(PhaseKilled)
		return Killed, nil
	}

	l.publish(PhaseRunning)
	return Continue, nil
}

func (l *Loop) ensureLoaded() error {
	st := l.state
	if st.Pool == nil {
		if l.deps.Pool != nil {
			st.Pool = l.deps.Pool
		} else {
			pool, err := slots.Load(l.config.NodeFile, l.logger)
			if err != nil {
				return &LoadError{What: "slots", Err: err}
			}
			st.Pool = pool
		}
		l.logger.Info("slots ready", "slots", st.Pool.Len(), "hosts", len(st.Pool.Hosts()))
	}

	if !st.batchesLoaded {
		if err := l.deps.Batches.Load(); err != nil {
			return &LoadError{What: "batches", Err: err}
		}
		st.batchesLoaded = true
		l.reconcileSlots()
	}
	return nil
}

// reconcileSlots reserves the slot of every job already running when the
// store was loaded, so it is not handed out twice.
func (l *Loop) reconcileSlots() {
	reserved := 0
	for _, b := range l.deps.Batches.Batches {
		for _, j := range b.Jobs {
			if !j.IsRunning() || j.Slot < 0 || j.Slot >= l.state.Pool.Len() {
				continue
			}
			l.state.Pool.Reserve(j.Slot)
			reserved++
		}
	}
	if reserved > 0 {
		l.logger.Info("slots reserved for running jobs", "count", reserved)
	}
}

func (l *Loop) refreshParams() {
	st := l.state
	snap, reloaded, err := l.deps.Params.Refresh()
	if err != nil {
		l.logger.Warn("params reload failed, keeping previous values", "error", err)
	}
	if st.Params != nil && !reloaded {
		return
	}
	st.Params = snap
	st.MaxJobs = snap.Int(params.KeyMaxJobs, l.config.DefaultMaxJobs)
	st.MaxJobTime = snap.Int(params.KeyMaxJobTime, 0)
	l.logger.Info("params loaded", "maxjobs", st.MaxJobs, "maxjobtime", st.MaxJobTime, "killjobs", snap.Has(params.KeyKillJobs))
}

// activeBatch returns the first batch in store order with pending or running
// jobs. Batches found empty are skipped for the rest of the run.
func (l *Loop) activeBatch() *model.Batch {
	for i, b := range l.deps.Batches.Batches {
		if l.state.exhausted[i] {
			continue
		}
		if b.Done() {
			l.state.exhausted[i] = true
			l.logger.Info("batch done", "batch", b.Name, "crashed", b.Crashed())
			continue
		}
		return b
	}
	return nil
}

func (l *Loop) finish(ctx context.Context, outcome Outcome) {
	l.logger.Info("run complete", "outcome", outcome.String(), "ticks", l.state.Ticks,
		"report", l.deps.Batches.Report(l.addrOf))
	l.sendNotifications(ctx)
	l.persist()
	l.record(ctx, store.Event{Kind: store.EventRunEnd, JobIndex: -1, PID: -1, Slot: -1, Detail: outcome.String()})
}

func (l *Loop) shutdown(phase string) {
	l.persist()
	l.publish(phase)
	// ctx may already be cancelled here.
	l.record(context.Background(), store.Event{Kind: store.EventRunEnd, JobIndex: -1, PID: -1, Slot: -1, Detail: phase})
}

func (l *Loop) persist() {
	if !l.state.batchesLoaded {
		return
	}
	if err := l.deps.Batches.Save(); err != nil {
		l.logger.Error("final persist", "error", err)
	}
}

// sendNotifications sends the completion message once on every enabled channel. The
// params file is read afresh so a channel switched on late still counts.
func (l *Loop) sendNotifications(ctx context.Context) {
	if l.deps.Notifiers == nil {
		return
	}
	snap, err := l.deps.Params.Read()
	if err != nil {
		l.logger.Warn("params read for notification", "error", err)
		snap = l.state.Params
		if snap == nil {
			snap = params.Empty
		}
	}
	notifiers := l.deps.Notifiers.Enabled(snap)
	if len(notifiers) == 0 {
		return
	}

	dir := l.config.WorkDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	subject := "run complete: " + dir
	message := l.deps.Batches.Report(l.addrOf)

	nctx, cancel := context.WithTimeout(ctx, l.config.NotifyTimeout)
	defer cancel()
	_ = notify.DeliverAll(nctx, notifiers, subject, message, l.logger)
}

func (l *Loop) addrOf(slot int) string {
	if l.state.Pool == nil {
		return slots.Unknown
	}
	return l.state.Pool.Addr(slot)
}

func (l *Loop) publish(phase string) {
	st := l.state
	s := Summarize(l.deps.Batches.Batches, st.Pool, l.now())
	s.RunID = l.runID
	s.Phase = phase
	s.Ticks = st.Ticks
	s.MaxJobs = st.MaxJobs
	s.MaxJobTime = st.MaxJobTime
	l.status.Store(s)
}

func (l *Loop) record(ctx context.Context, ev store.Event) {
	ev.RunID = l.runID
	if ev.At.IsZero() {
		ev.At = l.now().UTC()
	}
	if err := l.history.Record(ctx, ev); err != nil {
		l.logger.Warn("history record failed", "event", ev.Kind, "error", err)
	}
}
