package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/dmitrijs2005/clusterapi/internal/common"
)

// ExitStatus describes how a worker process ended.
type ExitStatus struct {
	Code     int
	Signaled bool
	Err      error
}

// Crashed reports whether the exit counts as a crash: a non-zero code or
// death by signal.
func (s ExitStatus) Crashed() bool {
	return s.Signaled || s.Code != 0
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return "killed by signal"
	}
	return "exit code " + strconv.Itoa(s.Code)
}

// Process is a running worker as seen by the supervisor.
type Process interface {
	PID() int
	// Send delivers a command over the command pipe.
	Send(m Message) error
	// Reports yields the worker's messages and is closed when its report
	// pipe closes.
	Reports() <-chan Message
	// Wait blocks until the process has exited.
	Wait() ExitStatus
	Kill() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, workerID int) (Process, error)
}

// File descriptors a worker inherits, in os/exec ExtraFiles order.
const (
	ListenerFD = 3
	CommandFD  = 4
	ReportFD   = 5
)

// ExecSpawner re-executes a binary as a worker with the shared listener and
// both pipes attached.
type ExecSpawner struct {
	Path     string
	Args     []string
	Env      []string
	Listener *os.File
	Stdout   io.Writer
	Stderr   io.Writer
	// OnMalformed, if set, is told about report lines that fail to decode.
	OnMalformed func(workerID int, err error)
}

func (s *ExecSpawner) Spawn(_ context.Context, workerID int) (Process, error) {
	if s.Listener == nil {
		return nil, errors.New("exec spawner: no listener")
	}

	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("command pipe: %w", err)
	}
	repR, repW, err := os.Pipe()
	if err != nil {
		_ = cmdR.Close()
		_ = cmdW.Close()
		return nil, fmt.Errorf("report pipe: %w", err)
	}

	// not CommandContext: a worker must outlive a cancelled context long
	// enough to drain
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), common.WorkerIDEnv+"="+strconv.Itoa(workerID))
	cmd.ExtraFiles = []*os.File{s.Listener, cmdR, repW}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{cmdR, cmdW, repR, repW} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("start worker %d: %w", workerID, err)
	}

	// the child holds its own copies now
	_ = cmdR.Close()
	_ = repW.Close()

	p := &execProcess{
		cmd:     cmd,
		cmdW:    cmdW,
		sender:  NewSender(cmdW),
		reports: make(chan Message, 16),
		done:    make(chan struct{}),
	}
	go p.readReports(repR, workerID, s.OnMalformed)
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	cmdW    *os.File
	sender  *Sender
	reports chan Message
	done    chan struct{}
	status  ExitStatus
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Send(m Message) error { return p.sender.Send(m) }

func (p *execProcess) Reports() <-chan Message { return p.reports }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Wait() ExitStatus {
	<-p.done
	return p.status
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	_ = p.cmdW.Close()

	st := ExitStatus{}
	if ps := p.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		// ExitCode is -1 when the process was killed by a signal
		st.Signaled = st.Code == -1
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		st.Err = err
	}
	p.status = st
	close(p.done)
}

func (p *execProcess) readReports(r io.ReadCloser, workerID int, onMalformed func(int, error)) {
	defer close(p.reports)
	defer r.Close()

	rcv := NewReceiver(r)
	for {
		m, err := rcv.Receive()
		if err != nil {
			var bad *MalformedError
			if errors.As(err, &bad) {
				if onMalformed != nil {
					onMalformed(workerID, err)
				}
				continue
			}
			return
		}
		p.reports <- m
	}
}
