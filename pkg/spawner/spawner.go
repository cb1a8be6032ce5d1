// Package spawner launches worker processes on the local host, one per
// port from a configured pool. Deployments that run workers elsewhere
// (containers, remote hosts) skip this package entirely and let workers
// self-register over the worker API.
package spawner

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"starbench/pkg/logger"
)

// Config local launcher configuration.
type Config struct {
	Command   []string // Worker argv; every "{port}" token is substituted
	PortStart int
	PortEnd   int
}

// Process one launched worker process.
type Process struct {
	Port     int
	Endpoint string // ws:// URL the worker serves its channel on
	cmd      *exec.Cmd
}

// PID returns the operating system pid of the worker process.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Spawner launches and reaps local worker processes.
type Spawner struct {
	cfg   Config
	ports *PortPool

	mu        sync.Mutex
	processes map[int]*Process // by port
}

// New creates a spawner over the configured port range.
func New(cfg Config) (*Spawner, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("spawner: empty worker command")
	}
	if cfg.PortEnd <= cfg.PortStart {
		return nil, fmt.Errorf("spawner: invalid port range [%d, %d)", cfg.PortStart, cfg.PortEnd)
	}
	return &Spawner{
		cfg:       cfg,
		ports:     NewPortPool(cfg.PortStart, cfg.PortEnd),
		processes: make(map[int]*Process),
	}, nil
}

// Launch reserves a port and starts one worker process on it. The
// returned endpoint is what the worker is expected to register with the
// pool; the spawner itself does not register on the worker's behalf.
func (s *Spawner) Launch(ctx context.Context) (*Process, error) {
	port, err := s.ports.Reserve()
	if err != nil {
		return nil, err
	}

	argv := make([]string, len(s.cfg.Command))
	for i, arg := range s.cfg.Command {
		argv[i] = strings.ReplaceAll(arg, "{port}", strconv.Itoa(port))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		s.ports.Release(port)
		return nil, fmt.Errorf("spawner: failed to start worker on port %d: %w", port, err)
	}

	proc := &Process{
		Port:     port,
		Endpoint: fmt.Sprintf("ws://127.0.0.1:%d/channel", port),
		cmd:      cmd,
	}
	s.mu.Lock()
	s.processes[port] = proc
	s.mu.Unlock()

	go s.reap(proc)

	logger.Infof("worker process launched, port: %d, pid: %d", port, cmd.Process.Pid)
	return proc, nil
}

// Stop terminates one worker process and frees its port.
func (s *Spawner) Stop(port int) error {
	s.mu.Lock()
	proc, ok := s.processes[port]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("spawner: no process on port %d", port)
	}
	return proc.cmd.Process.Signal(syscall.SIGTERM)
}

// StopAll terminates every launched worker, used during shutdown.
func (s *Spawner) StopAll() {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}

	// Give workers a moment to exit cleanly before the process tree goes away.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		remaining := len(s.processes)
		s.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Running reports the number of live worker processes.
func (s *Spawner) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processes)
}

func (s *Spawner) reap(proc *Process) {
	err := proc.cmd.Wait()
	s.mu.Lock()
	delete(s.processes, proc.Port)
	s.mu.Unlock()
	s.ports.Release(proc.Port)

	if err != nil {
		logger.Warnf("worker process exited, port: %d, err: %v", proc.Port, err)
	} else {
		logger.Infof("worker process exited cleanly, port: %d", proc.Port)
	}
}
