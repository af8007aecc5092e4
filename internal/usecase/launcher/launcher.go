// Package launcher runs a local gateway process in development mode:
// spawn with a bound loopback port and auth token, probe port
// availability, and report status.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"

	"github.com/rodcoding123/helix-gateway/internal/domain"
)

// Config holds launcher settings.
type Config struct {
	// Command is the gateway executable, e.g. "openclaw".
	Command string
	// Args are extra arguments placed before the generated flags.
	Args []string
	// WorkDir is the working directory for the process.
	WorkDir string
	// Port is the preferred listen port; an ephemeral port is picked when
	// it is taken.
	Port int
	// Token is passed via --token. Redacted in logs.
	Token string
}

// Info describes the running (or last known) gateway process.
type Info struct {
	Running bool   `json:"running"`
	Port    int    `json:"port,omitempty"`
	PID     int    `json:"pid,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Launcher owns at most one local gateway process.
type Launcher struct {
	cfg    Config
	bus    domain.EventBus
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	port int
	url  string
}

// New creates a launcher.
func New(cfg Config, bus domain.EventBus, logger *slog.Logger) *Launcher {
	return &Launcher{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "gateway-launcher"),
	}
}

// Start spawns the gateway process. The preferred port is probed first;
// when taken, an ephemeral port is used instead.
func (l *Launcher) Start(ctx context.Context) (Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return Info{}, fmt.Errorf("launcher: gateway already running (pid %d)", l.cmd.Process.Pid)
	}

	port := l.cfg.Port
	if port <= 0 || !portAvailable(port) {
		var err error
		port, err = ephemeralPort()
		if err != nil {
			return Info{}, fmt.Errorf("launcher: find port: %w", err)
		}
		l.logger.Info("using ephemeral port", "preferred", l.cfg.Port, "port", port)
	}

	args := append([]string{}, l.cfg.Args...)
	args = append(args, "gateway",
		"--port", fmt.Sprint(port),
		"--bind", "loopback",
		"--token", l.cfg.Token,
	)

	l.logger.Info("starting gateway process",
		"command", l.cfg.Command,
		"args", redactToken(args),
	)

	cmd := exec.Command(l.cfg.Command, args...)
	cmd.Dir = l.cfg.WorkDir
	if err := cmd.Start(); err != nil {
		return Info{}, fmt.Errorf("launcher: start gateway: %w", err)
	}

	l.cmd = cmd
	l.port = port
	l.url = fmt.Sprintf("ws://127.0.0.1:%d", port)

	info := Info{Running: true, Port: port, PID: cmd.Process.Pid, URL: l.url}
	l.bus.Publish(ctx, domain.NewEvent(domain.EventLauncherStarted, info))

	// Reap the process so it never lingers as a zombie.
	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		if l.cmd == cmd {
			l.cmd = nil
		}
		l.mu.Unlock()
		if err != nil {
			l.logger.Warn("gateway process exited", "error", err)
		}
	}()

	return info, nil
}

// Stop terminates the gateway process if it is running.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	cmd := l.cmd
	l.cmd = nil
	l.port = 0
	l.url = ""
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("launcher: kill gateway: %w", err)
	}
	l.bus.Publish(ctx, domain.NewEvent(domain.EventLauncherStopped, nil))
	return nil
}

// Status reports the current process state.
func (l *Launcher) Status() Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil || l.cmd.Process == nil {
		return Info{Running: false}
	}
	return Info{Running: true, Port: l.port, PID: l.cmd.Process.Pid, URL: l.url}
}

// URL returns the WebSocket URL of the launched gateway, or empty when not
// running.
func (l *Launcher) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

func portAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func ephemeralPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// redactToken hides the value following --token in logged args.
func redactToken(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 1; i < len(out); i++ {
		if out[i-1] == "--token" {
			out[i] = "[REDACTED]"
		}
	}
	return out
}
