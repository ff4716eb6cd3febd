package supervisor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/auditlog"
	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/config"
	"github.com/fabricmesh/inference-session-core/internal/payment"
)

// Supervisor wires together the inference subprocess, its health probe
// and restart policy, its local event bridge, and log rotation into the
// single long-running host-operator loop described in §4.9.
type Supervisor struct {
	process *Process
	bridge  *EventBridge
	log     *zap.SugaredLogger
}

// New resolves the inference binary, builds the rotating log sink, and
// assembles a Supervisor ready for Run.
func New(cfg config.HostOperatorConfig, policy RestartPolicy, paymentMgr *payment.Manager, profile chain.GasProfile, log *zap.SugaredLogger) (*Supervisor, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	binaryPath, err := ResolveBinaryPath(cfg.InferenceBinary)
	if err != nil {
		return nil, errors.Wrap(err, "supervisor: resolve inference binary")
	}

	logWriter := NewRotatingWriter(cfg.LogDir)
	process := NewProcess(binaryPath, cfg, policy, logWriter, log)

	audit, err := auditlog.New(filepath.Join(cfg.LogDir, "audit.ndjson"))
	if err != nil {
		return nil, errors.Wrap(err, "supervisor: build audit logger")
	}

	localWSURL := fmt.Sprintf("ws://%s/v1/events", cfg.ListenAddress)
	bridge := NewEventBridge(localWSURL, paymentMgr, profile, audit, log)

	return &Supervisor{process: process, bridge: bridge, log: log}, nil
}

// Run blocks until ctx is cancelled, supervising the inference subprocess
// and re-attaching the event bridge on every successful (re)spawn.
func (s *Supervisor) Run(ctx context.Context) error {
	return s.process.RunSupervised(ctx, func(readyCtx context.Context) {
		if err := s.bridge.Run(readyCtx); err != nil && readyCtx.Err() == nil {
			s.log.Errorw("supervisor: event bridge disconnected", "error", err)
		}
	})
}

// Shutdown gracefully stops the supervised subprocess (§4.9: SIGTERM,
// then SIGKILL after the grace period).
func (s *Supervisor) Shutdown() error {
	return s.process.Shutdown()
}
