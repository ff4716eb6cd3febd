package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/config"
)

// fallbackBinaryLocations is the canonical search list consulted when the
// inference binary isn't resolvable via PATH or an explicit config value.
var fallbackBinaryLocations = []string{
	"/usr/local/bin/inference-engine",
	"/opt/fabricmesh/bin/inference-engine",
	"./bin/inference-engine",
}

const (
	healthProbeTimeout  = 2 * time.Second
	healthProbeMaxTotal = 30 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// ResolveBinaryPath finds the inference engine executable: an explicit
// config path wins, then PATH, then the fallback list.
func ResolveBinaryPath(configured string) (string, error) {
	if configured != "" {
		if abs, err := exec.LookPath(configured); err == nil {
			return abs, nil
		}
		if _, err := os.Stat(configured); err == nil {
			return configured, nil
		}
	}
	if found, err := exec.LookPath("inference-engine"); err == nil {
		return found, nil
	}
	for _, candidate := range fallbackBinaryLocations {
		if _, err := os.Stat(candidate); err == nil {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return candidate, nil
			}
			return abs, nil
		}
	}
	return "", errors.New("supervisor: inference binary not found on PATH or in fallback locations")
}

// Process owns the inference subprocess's lifecycle: spawn, health probe,
// liveness monitoring, restart backoff, and graceful shutdown.
type Process struct {
	binaryPath string
	cfg        config.HostOperatorConfig
	policy     RestartPolicy
	log        *zap.SugaredLogger
	logWriter  *rotatingWriter

	mu         sync.Mutex
	cmd        *exec.Cmd
	attempt    int
	lastUpAt   time.Time
}

func NewProcess(binaryPath string, cfg config.HostOperatorConfig, policy RestartPolicy, logWriter *rotatingWriter, log *zap.SugaredLogger) *Process {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Process{
		binaryPath: binaryPath,
		cfg:        cfg,
		policy:     policy,
		log:        log,
		logWriter:  logWriter,
	}
}

// spawn starts the subprocess with the resolved listen address, port,
// models-to-preload, and log level (§4.9), redirecting its stdout/stderr
// into the supervisor's rotating log file.
func (p *Process) spawn(ctx context.Context) error {
	args := []string{
		"--listen-address", p.cfg.ListenAddress,
		"--port", strconv.Itoa(p.cfg.Port),
		"--log-level", p.cfg.LogLevel,
		"--public-url", p.cfg.PublicURL,
	}
	if len(p.cfg.ModelsToPreload) > 0 {
		args = append(args, "--preload-models", strings.Join(p.cfg.ModelsToPreload, ","))
	}

	cmd := exec.CommandContext(ctx, p.binaryPath, args...)
	if p.logWriter != nil {
		cmd.Stdout = p.logWriter
		cmd.Stderr = p.logWriter
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "supervisor: spawn inference subprocess")
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	p.log.Infow("supervisor: inference subprocess started", "pid", cmd.Process.Pid, "binary", p.binaryPath)
	return nil
}

// waitHealthy polls GET {listenAddress}/health until it reports healthy
// or the total backoff budget of healthProbeMaxTotal is exhausted.
func (p *Process) waitHealthy(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/health", p.cfg.ListenAddress)
	client := &http.Client{Timeout: healthProbeTimeout}

	deadline := time.Now().Add(healthProbeMaxTotal)
	delay := 500 * time.Millisecond
	for {
		reqCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err == nil {
			resp, doErr := client.Do(req)
			if doErr == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					cancel()
					return nil
				}
			}
		}
		cancel()

		if time.Now().Add(delay).After(deadline) {
			return errors.New("supervisor: inference subprocess did not become healthy within the probe budget")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > healthProbeMaxTotal {
			delay = healthProbeMaxTotal
		}
	}
}

// Wait blocks until the subprocess exits and returns its exit error (nil
// on a clean exit).
func (p *Process) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return errors.New("supervisor: Wait called before spawn")
	}
	return cmd.Wait()
}

// Shutdown sends SIGTERM and waits up to shutdownGracePeriod before
// escalating to SIGKILL (§4.9).
func (p *Process) Shutdown() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return errors.Wrap(err, "supervisor: send SIGTERM")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(shutdownGracePeriod):
		p.log.Warnw("supervisor: subprocess did not exit within grace period, sending SIGKILL", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			return errors.Wrap(err, "supervisor: send SIGKILL")
		}
		return <-done
	}
}

// RunSupervised spawns the subprocess, waits for it to become healthy,
// blocks until it exits, and restarts it per the restart policy until
// ctx is cancelled or the policy gives up. onReady is invoked once per
// successful spawn, after the health probe passes, so the caller can
// (re)attach its WebSocket bridge.
func (p *Process) RunSupervised(ctx context.Context, onReady func(ctx context.Context)) error {
	for {
		if err := p.spawn(ctx); err != nil {
			return err
		}
		if err := p.waitHealthy(ctx); err != nil {
			p.log.Errorw("supervisor: subprocess failed health probe", "error", err)
			_ = p.Shutdown()
			return err
		}

		p.mu.Lock()
		p.lastUpAt = time.Now()
		p.mu.Unlock()

		readyCtx, cancelReady := context.WithCancel(ctx)
		go onReady(readyCtx)

		exitErr := p.Wait()
		cancelReady()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		stableUptime := time.Since(p.lastUpAt)
		if stableUptime >= p.policy.ResetWindow {
			p.attempt = 0
		}
		p.attempt++
		attempt := p.attempt
		p.mu.Unlock()

		if !p.policy.shouldRestart(exitErr) {
			return exitErr
		}
		if p.policy.Kind == RestartCustom && p.policy.MaxAttempts > 0 && attempt > p.policy.MaxAttempts {
			return errors.Wrap(exitErr, "supervisor: exhausted restart attempts")
		}

		delay := p.policy.delayForAttempt(attempt)
		p.log.Warnw("supervisor: inference subprocess exited, restarting", "error", exitErr, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
