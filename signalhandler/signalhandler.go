// Package signalhandler implements the Signal-Safe Cleanup protocol (spec
// §4.2): on SIGTERM/SIGINT, stop the copier, remove any staging directory,
// release the lock, and exit 128+signo — with no orphaned state left behind.
package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/devbackup/devbackup/logging"
)

// copierWaitTimeout bounds how long Cleanup waits for a registered copier
// process to exit gracefully before escalating (spec §4.2 step 1: "up to 5s").
const copierWaitTimeout = 5 * time.Second

// Locker is the subset of the Atomic Lock contract the handler needs.
type Locker interface {
	Release() error
}

// CopierProcess models whatever is doing the file copy for the duration the
// Signal Handler must be able to interrupt. An in-process copier satisfies
// this trivially (Signal cancels a context, Wait blocks on a done channel);
// an os/exec.Cmd-based external copier satisfies it directly.
type CopierProcess interface {
	Signal(os.Signal) error
	Wait() error
}

// Handler owns signal registration for one backup run's lifetime.
//
// Register always installs process-wide handling for SIGTERM and SIGINT,
// whichever goroutine calls it; there is no mode that only records state
// without installing handlers. Cleanup can also be called directly, without
// a signal.
type Handler struct {
	mu         sync.Mutex
	copier     CopierProcess
	inProgress string
	locker     Locker

	sigCh    chan os.Signal
	stopCh   chan struct{}
	mainSafe bool
}

// New creates an unregistered Handler.
func New() *Handler {
	return &Handler{}
}

// Register installs OS signal handling for SIGTERM and SIGINT and starts the
// goroutine that runs Cleanup-then-exit on receipt. Must be called from the
// process's main goroutine exactly once per run.
func (h *Handler) Register(inProgress string, locker Locker) {
	h.mu.Lock()
	h.inProgress = inProgress
	h.locker = locker
	h.mainSafe = true
	h.sigCh = make(chan os.Signal, 1)
	h.stopCh = make(chan struct{})
	sigCh := h.sigCh
	stopCh := h.stopCh
	h.mu.Unlock()

	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			h.handle(sig)
		case <-stopCh:
		}
	}()
}

// SetCopierProcess registers the subprocess (or in-process equivalent) the
// handler must interrupt first on a termination signal.
func (h *Handler) SetCopierProcess(p CopierProcess) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.copier = p
}

// SetInProgress updates the staging directory path once it has been created
// (it does not exist yet at Register time — spec §4.2: "to update after
// staging directory is created").
func (h *Handler) SetInProgress(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inProgress = path
}

// Unregister restores the prior signal disposition without running cleanup.
func (h *Handler) Unregister() {
	h.mu.Lock()
	stopCh := h.stopCh
	sigCh := h.sigCh
	h.mu.Unlock()

	if sigCh != nil {
		signal.Stop(sigCh)
	}
	if stopCh != nil {
		close(stopCh)
	}
}

// handle runs the cleanup sequence and exits the process with 128+signo.
func (h *Handler) handle(sig os.Signal) {
	logger := logging.WithFunc("signalhandler")
	logger.Warnf(context.Background(), "received %s, cleaning up", sig)
	h.Cleanup(context.Background())

	signo := 0
	if s, ok := sig.(syscall.Signal); ok {
		signo = int(s)
	}
	os.Exit(128 + signo) //nolint:mnd
}

// Cleanup performs the same actions handle would, without exiting — for
// tests, and for callers that want to force cleanup outside a real signal.
func (h *Handler) Cleanup(ctx context.Context) {
	h.mu.Lock()
	copier := h.copier
	inProgress := h.inProgress
	locker := h.locker
	h.mu.Unlock()

	logger := logging.WithFunc("signalhandler")

	if copier != nil {
		if err := copier.Signal(syscall.SIGTERM); err == nil {
			done := make(chan struct{})
			go func() { _ = copier.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(copierWaitTimeout):
				_ = copier.Signal(syscall.SIGKILL)
				<-done
			}
		}
	}

	if inProgress != "" {
		if _, err := os.Stat(inProgress); err == nil {
			if err := os.RemoveAll(inProgress); err != nil {
				logger.Errorf(ctx, "remove staging dir %s: %v", inProgress, err)
			}
		}
	}

	if locker != nil {
		if err := locker.Release(); err != nil {
			logger.Errorf(ctx, "release lock: %v", err)
		}
	}
}

// IsMainRegistered reports whether Register has installed OS-level signal
// handling on this Handler. It stays true after Unregister.
func (h *Handler) IsMainRegistered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mainSafe
}

