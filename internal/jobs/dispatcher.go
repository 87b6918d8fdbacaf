package jobs

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/metrics"
)

// Job names form the dispatcher's whole vocabulary. This is not a generic
// queue: anything else is rejected.
const (
	JobBackup         = "backup"
	JobRestore        = "restore"
	JobFinalizeTenant = "finalize-tenant"
	JobDropDatabase   = "drop-database"
	JobBroadcast      = "broadcast"
)

var knownJobs = map[string]bool{
	JobBackup:         true,
	JobRestore:        true,
	JobFinalizeTenant: true,
	JobDropDatabase:   true,
	JobBroadcast:      true,
}

var ErrUnknownJob = errors.New("unknown job")

// InlineRunner executes a job synchronously inside the current request, the
// degraded fallback when detached spawning is unavailable.
type InlineRunner interface {
	Run(name string, args []string) error
}

// Dispatcher launches named jobs and forgets them. Guarantees are
// deliberately weak: at most one execution per dispatch, best-effort
// completion, no retry record. A job that dies is visible only through its
// missing outcome notification.
type Dispatcher struct {
	runnerPath string
	inline     InlineRunner
	logger     *zap.Logger
}

func NewDispatcher(runnerPath string, inline InlineRunner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		runnerPath: runnerPath,
		inline:     inline,
		logger:     logger,
	}
}

// Dispatch runs the named job with positional args. A detached subprocess
// is preferred; when that is impossible the job runs inline before this
// call returns, trading caller latency for correctness.
func (d *Dispatcher) Dispatch(name string, args ...string) error {
	if !knownJobs[name] {
		return ErrUnknownJob
	}

	// The dispatch id ties the fire-and-forget launch to whatever the job
	// later logs from its own process.
	dispatchID := uuid.NewString()

	if d.runnerPath != "" {
		if err := d.spawn(dispatchID, name, args); err == nil {
			metrics.JobsDispatched.WithLabelValues(name, "detached").Inc()
			return nil
		} else {
			d.logger.Warn("detached spawn failed, running job inline",
				zap.String("job", name), zap.String("dispatch_id", dispatchID), zap.Error(err))
		}
	}

	if d.inline == nil {
		return errors.New("no inline runner configured")
	}
	metrics.JobsDispatched.WithLabelValues(name, "inline").Inc()
	return d.inline.Run(name, args)
}

func (d *Dispatcher) spawn(dispatchID, name string, args []string) error {
	cmd := exec.Command(d.runnerPath, append([]string{name}, args...)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), "BOTMOTHER_DISPATCH_ID="+dispatchID)
	// New session so the job survives this process and never touches its
	// terminal or sockets.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	d.logger.Info("job spawned",
		zap.String("job", name),
		zap.String("dispatch_id", dispatchID),
		zap.Int("pid", cmd.Process.Pid),
	)

	// Reap in the background; the caller never waits.
	go cmd.Wait()
	return nil
}
