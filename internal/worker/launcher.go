package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/metrics"
	"github.com/JakeFAU/lms-courier/internal/task"
)

// Command is the hidden subcommand that turns the binary into a worker.
const Command = "_worker"

const (
	logLineMax  = 1 << 20
	logChanSize = 256
)

// Config describes how to start a worker.
type Config struct {
	// Executable defaults to the running binary.
	Executable string
	// Args default to the worker command.
	Args []string
	// Env is appended to the parent's environment.
	Env []string
	// LogLevel is forwarded to the child logger.
	LogLevel string
}

// Launcher starts worker processes.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher resolves the executable and returns a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{Command}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger.Named("launcher")}, nil
}

// Start launches a worker and hands it the task input. The returned Process
// is running; ctx only bounds the start itself.
func (l *Launcher) Start(ctx context.Context, in task.Input) (*Process, error) {
	p, err := l.start(ctx, in)
	metrics.ObserveWorkerLaunch(err)
	return p, err
}

func (l *Launcher) start(ctx context.Context, in task.Input) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resultR, resultW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("result pipe: %w", err)
	}
	logR, logW, err := os.Pipe()
	if err != nil {
		closeAll(resultR, resultW)
		return nil, fmt.Errorf("log pipe: %w", err)
	}

	// #nosec G204 -- the executable is our own binary or an explicit config value.
	cmd := exec.Command(l.cfg.Executable, l.cfg.Args...)
	cmd.Env = append(os.Environ(), EnvLogLevel+"="+l.cfg.LogLevel)
	cmd.Env = append(cmd.Env, l.cfg.Env...)
	cmd.Stderr = logW
	cmd.ExtraFiles = []*os.File{resultW}
	setProcAttr(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeAll(resultR, resultW, logR, logW)
		return nil, fmt.Errorf("control pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		closeAll(resultR, resultW, logR, logW)
		return nil, fmt.Errorf("start worker: %w", err)
	}
	// The child holds its own copies of the write ends.
	closeAll(resultW, logW)

	p := &Process{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		control:    stdin,
		logR:       logR,
		logs:       make(chan string, logChanSize),
		resultCh:   make(chan Result, 1),
		resultDone: make(chan struct{}),
		exited:     make(chan struct{}),
		closed:     make(chan struct{}),
		logger:     l.logger.With(zap.Int("pid", cmd.Process.Pid)),
	}
	p.alive.Store(true)
	go p.readResult(resultR)
	go p.readLogs()
	go p.wait()

	if err := p.send(Control{Op: OpStart, Spec: &in}); err != nil {
		_ = p.Kill()
		<-p.exited
		p.Close()
		return nil, fmt.Errorf("send task: %w", err)
	}
	return p, nil
}

// Process is the parent's handle on a running worker.
type Process struct {
	cmd     *exec.Cmd
	pid     int
	logger  *zap.Logger
	control io.WriteCloser
	logR    *os.File

	writeMu    sync.Mutex
	cancelOnce sync.Once
	closeOnce  sync.Once

	logs       chan string
	resultCh   chan Result
	resultDone chan struct{}
	exited     chan struct{}
	closed     chan struct{}

	alive   atomic.Bool
	exitErr error
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// Alive reports whether the process has not been reaped yet.
func (p *Process) Alive() bool { return p.alive.Load() }

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Logs streams the worker's stderr lines in order. It is closed at EOF.
func (p *Process) Logs() <-chan string { return p.logs }

// ExitErr returns the wait error after Exited is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.exitErr
	default:
		return nil
	}
}

// Cancel asks the worker to stop at its next safe point. Only the first call
// writes to the control stream.
func (p *Process) Cancel() error {
	var err error
	p.cancelOnce.Do(func() {
		err = p.send(Control{Op: OpCancel})
		p.writeMu.Lock()
		_ = p.control.Close()
		p.writeMu.Unlock()
	})
	if err != nil && !p.Alive() {
		return nil
	}
	return err
}

// Kill terminates the worker and its process group.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := killGroup(p.pid); err != nil {
		return fmt.Errorf("kill pid %d: %w", p.pid, err)
	}
	return nil
}

// Result waits for the worker's outcome. It blocks until a result arrives or
// the process exits, then waits at most wait for a result still in flight.
// KindNone means the worker exited without reporting.
func (p *Process) Result(wait time.Duration) Result {
	select {
	case r := <-p.resultCh:
		return r
	case <-p.exited:
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case r := <-p.resultCh:
		return r
	case <-p.resultDone:
		select {
		case r := <-p.resultCh:
			return r
		default:
			return Result{}
		}
	case <-timer.C:
		return Result{}
	}
}

// Close releases the log reader. Call it once the process has exited.
func (p *Process) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.logR.Close()
	})
}

func (p *Process) send(c Control) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode control: %w", err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.control.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write control: %w", err)
	}
	return nil
}

func (p *Process) readResult(r *os.File) {
	defer close(p.resultDone)
	defer func() { _ = r.Close() }()
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		if !errors.Is(err, io.EOF) {
			p.logger.Warn("unreadable worker result", zap.Error(err))
		}
		return
	}
	p.resultCh <- res
}

func (p *Process) readLogs() {
	defer close(p.logs)
	sc := bufio.NewScanner(p.logR)
	sc.Buffer(make([]byte, 0, 64*1024), logLineMax)
	for sc.Scan() {
		select {
		case p.logs <- sc.Text():
		case <-p.closed:
			return
		}
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitErr = err
	p.alive.Store(false)
	// Reap anything the worker left behind in its group so the pipes close.
	_ = killGroup(p.pid)
	close(p.exited)
}

func closeAll(files ...io.Closer) {
	for _, f := range files {
		_ = f.Close()
	}
}
