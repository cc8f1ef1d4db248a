package daemon

import (
	"context"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"

	"subtrans/internal/config"
	"subtrans/internal/media"
	"subtrans/internal/queue"
)

// HealthChecker verifies the daemon's operating requirements: a reachable
// database, a writable data directory, and the external media tools on PATH.
type HealthChecker struct {
	cfg     *config.Config
	store   *queue.Store
	toolbox *media.Toolbox
}

func NewHealthChecker(cfg *config.Config, store *queue.Store, toolbox *media.Toolbox) *HealthChecker {
	return &HealthChecker{cfg: cfg, store: store, toolbox: toolbox}
}

func (h *HealthChecker) Check(ctx context.Context) error {
	if err := h.store.CheckHealth(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := unix.Access(h.cfg.Paths.DataDir, unix.W_OK); err != nil {
		return fmt.Errorf("data directory %s not writable: %w", h.cfg.Paths.DataDir, err)
	}
	for _, binary := range h.toolbox.Binaries() {
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("required tool %s not found on PATH", binary)
		}
	}
	return nil
}
