package cluster

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/logging"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrShutdownTimeout = errors.New("workers did not exit within the shutdown timeout")
	ErrForcedShutdown  = errors.New("shutdown forced by a second signal")
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultRespawnDelay    = time.Second
)

// Options configure a Supervisor. Workers <= 0 means one per CPU.
type Options struct {
	Workers         int
	ShutdownTimeout time.Duration
	Spawner         Spawner
	Logger          logging.Logger
	Registerer      prometheus.Registerer
	// RespawnDelay is the pause before retrying a Spawn that returned an
	// error. Crashed workers are replaced without delay.
	RespawnDelay time.Duration
}

type slot struct {
	id       int
	fsm      *fsm.FSM
	proc     Process
	restarts int
}

type eventKind int

const (
	evReport eventKind = iota
	evExit
	evRespawn
)

type event struct {
	kind   eventKind
	slot   *slot
	proc   Process
	msg    Message
	status ExitStatus
}

// Supervisor keeps Workers processes running and coordinates their shutdown.
type Supervisor struct {
	opts    Options
	logger  logging.Logger
	metrics *supervisorMetrics

	events  chan event
	stopped chan struct{}

	mu           sync.Mutex
	slots        []*slot
	shuttingDown bool
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.RespawnDelay <= 0 {
		opts.RespawnDelay = defaultRespawnDelay
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger.With("module", "supervisor", "pid", os.Getpid()),
		metrics: newSupervisorMetrics(reg),
		events:  make(chan event),
		stopped: make(chan struct{}),
	}
}

// Run starts the workers and supervises them until shutdown. The first
// value on signals, or ctx being cancelled, starts a graceful shutdown; a
// second signal forces it. Run returns nil when every worker has exited,
// ErrShutdownTimeout when stragglers had to be killed and ErrForcedShutdown
// after a second signal.
func (s *Supervisor) Run(ctx context.Context, signals <-chan os.Signal) error {
	defer close(s.stopped)

	for i := 1; i <= s.opts.Workers; i++ {
		sl := &slot{id: i}
		sl.fsm = newWorkerFSM(s.onTransition(i))
		s.mu.Lock()
		s.slots = append(s.slots, sl)
		s.mu.Unlock()
	}
	s.logger.Info(ctx, "starting workers", "workers", s.opts.Workers)
	for _, sl := range s.slots {
		s.start(ctx, sl)
	}

	var deadline <-chan time.Time
	done := ctx.Done()

	for {
		select {
		case <-done:
			done = nil
			if s.isShuttingDown() {
				continue
			}
			if s.beginShutdown(ctx, "context cancelled") == 0 {
				return nil
			}
			deadline = s.deadline()

		case sig := <-signals:
			if s.isShuttingDown() {
				s.logger.Warn(ctx, "second signal, forcing shutdown", "signal", sig.String())
				s.killAll(ctx)
				return ErrForcedShutdown
			}
			if s.beginShutdown(ctx, sig.String()) == 0 {
				return nil
			}
			deadline = s.deadline()

		case <-deadline:
			s.logger.Error(ctx, "shutdown timeout elapsed, killing remaining workers",
				"timeout", s.opts.ShutdownTimeout.String(), "remaining", s.live())
			s.killAll(ctx)
			return ErrShutdownTimeout

		case ev := <-s.events:
			if s.handle(ctx, ev) {
				s.logger.Info(ctx, "all workers exited")
				return nil
			}
		}
	}
}

func (s *Supervisor) deadline() <-chan time.Time {
	return time.After(s.opts.ShutdownTimeout)
}

// Online is the number of workers that have reported in and are serving.
func (s *Supervisor) Online() int {
	return s.count(StateOnline)
}

// Restarts is the number of crash replacements started so far.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		n += sl.restarts
	}
	return n
}

// States returns the current state of every slot in worker id order.
func (s *Supervisor) States() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.fsm.Current()
	}
	return out
}

func (s *Supervisor) count(state string) int {
	n := 0
	for _, st := range s.States() {
		if st == state {
			n++
		}
	}
	return n
}

// live counts slots that have not reached exited.
func (s *Supervisor) live() int {
	return s.opts.Workers - s.count(StateExited)
}

func (s *Supervisor) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

func (s *Supervisor) onTransition(id int) func(from, to string) {
	return func(from, to string) {
		if to == StateOnline {
			s.metrics.online.Inc()
		}
		if from == StateOnline {
			s.metrics.online.Dec()
		}
		s.logger.Debug(context.Background(), "worker state", "worker_id", id, "from", from, "to", to)
	}
}

func (s *Supervisor) fire(ctx context.Context, sl *slot, name string) {
	// fsm events run on Background so a cancelled Run context cannot
	// abort a transition
	if err := sl.fsm.Event(context.Background(), name); err != nil {
		s.logger.Warn(ctx, "worker state transition rejected", "worker_id", sl.id, "event", name, "error", err.Error())
	}
}

func (s *Supervisor) send(ev event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

func (s *Supervisor) start(ctx context.Context, sl *slot) {
	proc, err := s.opts.Spawner.Spawn(ctx, sl.id)
	if err != nil {
		s.logger.Error(ctx, "spawn failed", "worker_id", sl.id, "error", err.Error(), "retry_in", s.opts.RespawnDelay.String())
		time.AfterFunc(s.opts.RespawnDelay, func() { s.send(event{kind: evRespawn, slot: sl}) })
		return
	}

	s.mu.Lock()
	sl.proc = proc
	s.mu.Unlock()
	s.metrics.spawned.Inc()
	s.logger.Info(ctx, "worker started", "worker_id", sl.id, "worker_pid", proc.PID())

	go func() {
		for m := range proc.Reports() {
			s.send(event{kind: evReport, slot: sl, proc: proc, msg: m})
		}
	}()
	go func() {
		st := proc.Wait()
		s.send(event{kind: evExit, slot: sl, proc: proc, status: st})
	}()
}

// handle applies one event and reports whether no live workers remain.
func (s *Supervisor) handle(ctx context.Context, ev event) bool {
	sl := ev.slot

	s.mu.Lock()
	current := sl.proc
	s.mu.Unlock()

	switch ev.kind {
	case evRespawn:
		if s.isShuttingDown() {
			s.fire(ctx, sl, EventExit)
			return s.live() == 0
		}
		s.start(ctx, sl)
		return false

	case evReport:
		if ev.proc != current {
			return false
		}
		s.handleReport(ctx, sl, ev.msg)
		return false

	case evExit:
		if ev.proc != current {
			return false
		}
		s.mu.Lock()
		sl.proc = nil
		s.mu.Unlock()
		s.handleExit(ctx, sl, ev.status)
		return s.live() == 0
	}
	return false
}

func (s *Supervisor) handleReport(ctx context.Context, sl *slot, m Message) {
	s.metrics.reports.WithLabelValues(string(m.Type)).Inc()

	switch m.Type {
	case MessageHealth:
		var r HealthReport
		if err := m.Decode(&r); err != nil {
			s.logger.Warn(ctx, "bad health report", "worker_id", sl.id, "error", err.Error())
			return
		}
		if sl.fsm.Current() == StateStarting {
			s.fire(ctx, sl, EventOnline)
			s.logger.Info(ctx, "worker online", "worker_id", sl.id, "worker_pid", r.PID)
		}
		s.logger.Debug(ctx, "health report",
			"worker_id", r.WorkerID, "worker_pid", r.PID, "status", r.Status,
			"memory_usage", r.MemoryUsage, "cpu_usage", r.CPUUsage,
			"request_count", r.RequestCount, "error_count", r.ErrorCount)

	case MessageMetrics:
		var r MetricsReport
		if err := m.Decode(&r); err != nil {
			s.logger.Warn(ctx, "bad metrics report", "worker_id", sl.id, "error", err.Error())
			return
		}
		s.metrics.requests.Add(float64(r.RequestCount))
		s.metrics.errors.Add(float64(r.ErrorCount))
		s.logger.Debug(ctx, "metrics report",
			"worker_id", r.WorkerID, "worker_pid", r.PID,
			"request_count", r.RequestCount, "error_count", r.ErrorCount)

	default:
		s.logger.Warn(ctx, "unexpected message from worker", "worker_id", sl.id, "type", string(m.Type))
	}
}

// handleExit decides between replacement and retirement. Only an exit the
// supervisor did not ask for, outside shutdown, with a crash status is
// replaced.
func (s *Supervisor) handleExit(ctx context.Context, sl *slot, st ExitStatus) {
	state := sl.fsm.Current()

	switch {
	case state == StateDisconnecting:
		s.fire(ctx, sl, EventExit)
		s.logger.Info(ctx, "worker disconnected", "worker_id", sl.id, "status", st.String())

	case s.isShuttingDown():
		s.fire(ctx, sl, EventExit)
		s.logger.Info(ctx, "worker exited during shutdown", "worker_id", sl.id, "status", st.String())

	case st.Crashed():
		s.fire(ctx, sl, EventCrash)
		s.mu.Lock()
		sl.restarts++
		s.mu.Unlock()
		s.metrics.restarts.Inc()
		s.logger.Warn(ctx, "worker crashed, starting replacement", "worker_id", sl.id, "status", st.String())
		s.fire(ctx, sl, EventRestart)
		s.start(ctx, sl)

	default:
		s.fire(ctx, sl, EventExit)
		s.logger.Info(ctx, "worker exited voluntarily, not restarting", "worker_id", sl.id)
	}
}

// beginShutdown asks every live worker to disconnect and returns how many
// are still live.
func (s *Supervisor) beginShutdown(ctx context.Context, reason string) int {
	s.mu.Lock()
	s.shuttingDown = true
	slots := append([]*slot(nil), s.slots...)
	s.mu.Unlock()

	s.logger.Info(ctx, "shutting down workers", "reason", reason, "timeout", s.opts.ShutdownTimeout.String())

	for _, sl := range slots {
		s.mu.Lock()
		proc := sl.proc
		s.mu.Unlock()

		switch sl.fsm.Current() {
		case StateStarting, StateOnline:
		default:
			continue
		}

		if proc == nil {
			// spawn retry pending; nothing to wait for
			s.fire(ctx, sl, EventExit)
			continue
		}

		s.fire(ctx, sl, EventDisconnect)
		msg, _ := NewMessage(MessageShutdown, sl.id, nil)
		if err := proc.Send(msg); err != nil {
			s.logger.Warn(ctx, "shutdown command not delivered, killing worker", "worker_id", sl.id, "error", err.Error())
			_ = proc.Kill()
		}
	}
	return s.live()
}

func (s *Supervisor) killAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.proc == nil {
			continue
		}
		if err := sl.proc.Kill(); err != nil {
			s.logger.Warn(ctx, "kill failed", "worker_id", sl.id, "error", err.Error())
		}
	}
}
