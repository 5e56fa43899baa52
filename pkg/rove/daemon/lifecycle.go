// Package daemon implements the Daemon Lifecycle from spec.md §4.8:
// single-instance enforcement via a PID file, ordered graceful shutdown,
// and periodic housekeeping. The housekeeping cron wiring follows the
// teacher's use of robfig/cron/v3 for its own scheduled jobs
// (initScheduler in assistant.go), repurposed here from user-facing
// scheduled tasks to the daemon's own rate-limit GC / WAL checkpoint
// chores.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/robfig/cron/v3"
)

const pidFileName = "rove.pid"

const shutdownGracePeriod = 30 * time.Second

// taskStore is the subset of *store.Store the lifecycle needs for its
// shutdown checkpoint step.
type taskStore interface {
	Checkpoint(ctx context.Context) error
}

// extensionHost is the subset of *extension.Host the lifecycle unloads
// during shutdown.
type extensionHost interface {
	UnloadAll()
}

// Lifecycle owns single-instance enforcement and orchestrated shutdown.
type Lifecycle struct {
	dataDir string
	store   taskStore
	host    extensionHost
	cron    *cron.Cron
	logger  *slog.Logger

	shuttingDown atomic.Bool
	inFlight     sync.WaitGroup
}

func New(dataDir string, st taskStore, host extensionHost, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		dataDir: dataDir,
		store:   st,
		host:    host,
		cron:    cron.New(),
		logger:  logger.With("component", "daemon"),
	}
}

func (l *Lifecycle) pidPath() string {
	return filepath.Join(l.dataDir, pidFileName)
}

// AcquireSingleInstance implements spec.md §4.8's single-instance check:
// a present, live PID file fails the start; a stale one is removed and
// the new PID is written.
func (l *Lifecycle) AcquireSingleInstance() error {
	path := l.pidPath()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading pid file: %w", err)
	}

	if err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr == nil && processAlive(pid) {
			return errs.New(errs.KindDaemonAlreadyRunning, fmt.Sprintf("daemon already running as pid %d", pid))
		}
		l.logger.Info("removing stale pid file", "path", path)
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("removing stale pid file: %w", removeErr)
		}
	}

	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

// BeginTask registers one in-flight task with the shutdown wait group.
// Returns false if the daemon is already shutting down, in which case
// the caller must fail the submission fast per spec.md §4.8 step 1.
func (l *Lifecycle) BeginTask() bool {
	if l.shuttingDown.Load() {
		return false
	}
	l.inFlight.Add(1)
	return true
}

func (l *Lifecycle) EndTask() {
	l.inFlight.Done()
}

// ScheduleHousekeeping registers a periodic job (rate-limit GC, WAL
// checkpoint) on the daemon's internal cron.
func (l *Lifecycle) ScheduleHousekeeping(spec string, job func()) error {
	_, err := l.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("scheduling housekeeping job %q: %w", spec, err)
	}
	return nil
}

// Start begins running scheduled housekeeping jobs.
func (l *Lifecycle) Start() {
	l.cron.Start()
}

// Shutdown implements spec.md §4.8's ordered shutdown sequence. All
// steps are best-effort: errors are logged, never fatal to the sequence.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.shuttingDown.Store(true)

	waitCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		l.logger.Warn("grace period elapsed with tasks still in flight; abandoning them in running state")
	}

	cronCtx := l.cron.Stop()
	<-cronCtx.Done()

	if l.host != nil {
		l.host.UnloadAll()
	}

	if l.store != nil {
		if err := l.store.Checkpoint(ctx); err != nil {
			l.logger.Warn("wal checkpoint failed during shutdown", "error", err)
		}
	}

	if err := os.Remove(l.pidPath()); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("failed to remove pid file", "error", err)
	}

	return nil
}
