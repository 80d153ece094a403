// Package supervisor owns the lifecycle of worker processes: one child per
// farmed application, each in its own process group, with stdout and stderr
// forwarded line by line into the structured log.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"idlefarm/internal/logging"
	"idlefarm/internal/steam"
	"idlefarm/internal/workerproto"
)

var (
	// ErrWorkerNotFound is returned when the worker already exited or was terminated.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrNoControlChannel is returned when sending to a worker launched without stdin.
	ErrNoControlChannel = errors.New("worker has no control channel")
)

const defaultKillGrace = 5 * time.Second

// Options configures a Supervisor.
type Options struct {
	Command      string
	Args         []string
	NoiseFilters []string
	// KillGrace is how long a terminated worker may linger after SIGTERM
	// before its process group is killed.
	KillGrace time.Duration
	Logger    *slog.Logger
}

// Handle describes one running worker.
type Handle struct {
	ID        string           `json:"id"`
	AppID     steam.AppID      `json:"app_id"`
	Name      string           `json:"name"`
	Kind      workerproto.Kind `json:"kind"`
	PID       int              `json:"pid"`
	StartedAt time.Time        `json:"started_at"`
}

type worker struct {
	handle  Handle
	cmd     *exec.Cmd
	writeMu sync.Mutex
	stdin   io.WriteCloser
	done    chan struct{}
}

// Supervisor spawns and tracks worker processes.
type Supervisor struct {
	command   string
	args      []string
	noise     []string
	killGrace time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	workers  map[string]*worker
	stopping map[string]struct{}
	watchers sync.WaitGroup
}

// New constructs a Supervisor. Command must name the worker executable.
func New(opts Options) (*Supervisor, error) {
	command := strings.TrimSpace(opts.Command)
	if command == "" {
		return nil, errors.New("supervisor: worker command required")
	}
	grace := opts.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	return &Supervisor{
		command:   command,
		args:      append([]string(nil), opts.Args...),
		noise:     append([]string(nil), opts.NoiseFilters...),
		killGrace: grace,
		logger:    logging.NewComponentLogger(opts.Logger, "supervisor"),
		workers:   make(map[string]*worker),
		stopping:  make(map[string]struct{}),
	}, nil
}

// Spawn launches a worker for appID. The returned handle stays valid until
// the worker exits or is terminated.
func (s *Supervisor) Spawn(appID steam.AppID, name string, kind workerproto.Kind) (Handle, error) {
	if appID == 0 {
		return Handle{}, errors.New("spawn worker: app id required")
	}
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("spawn worker: unknown kind %q", kind)
	}
	if strings.TrimSpace(name) == "" {
		name = appID.String()
	}

	cmd := exec.Command(s.command, s.args...) //nolint:gosec
	cmd.Env = append(os.Environ(),
		workerproto.EnvAppID+"="+appID.String(),
		workerproto.EnvKind+"="+string(kind),
	)
	configureProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("spawn worker %s: stdout pipe: %w", appID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Handle{}, fmt.Errorf("spawn worker %s: stderr pipe: %w", appID, err)
	}
	var stdin io.WriteCloser
	if kind.HasControlChannel() {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return Handle{}, fmt.Errorf("spawn worker %s: stdin pipe: %w", appID, err)
		}
	}
	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("spawn worker %s: %w", appID, err)
	}

	w := &worker{
		handle: Handle{
			ID:        uuid.NewString(),
			AppID:     appID,
			Name:      name,
			Kind:      kind,
			PID:       cmd.Process.Pid,
			StartedAt: time.Now().UTC(),
		},
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	s.workers[w.handle.ID] = w
	s.mu.Unlock()

	logger := s.logger.With(logging.AppID(uint32(appID)), logging.String(logging.FieldWorkerID, w.handle.ID))
	logger.Info("worker started",
		logging.String("name", name),
		logging.String("kind", string(kind)),
		logging.Int("pid", w.handle.PID),
	)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		s.pump(stdout, logger, name, false)
	}()
	go func() {
		defer pumps.Done()
		s.pump(stderr, logger, name, true)
	}()

	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		pumps.Wait()
		s.reap(w, logger)
	}()

	return w.handle, nil
}

// pump forwards worker output line by line. JSON lines from slog-based
// workers keep their own level; other stderr text is treated as an error.
func (s *Supervisor) pump(r io.Reader, logger *slog.Logger, name string, isStderr bool) {
	stream := "stdout"
	if isStderr {
		stream = "stderr"
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isStderr && s.isNoise(line) {
			logger.Debug(fmt.Sprintf("[%s] %s", name, line), logging.String("stream", stream), logging.Bool("noise", true))
			continue
		}
		if parsed, ok := logging.ParseWorkerLine(line); ok {
			attrs := append([]slog.Attr{slog.String("stream", stream)}, parsed.Attrs...)
			logger.LogAttrs(context.Background(), parsed.Level, fmt.Sprintf("[%s] %s", name, parsed.Message), attrs...)
			continue
		}
		msg := fmt.Sprintf("[%s] %s", name, line)
		if isStderr {
			logger.Error(msg, logging.String("stream", stream))
		} else {
			logger.Info(msg, logging.String("stream", stream))
		}
	}
}

func (s *Supervisor) isNoise(line string) bool {
	for _, filter := range s.noise {
		if strings.Contains(line, filter) {
			return true
		}
	}
	return false
}

func (s *Supervisor) reap(w *worker, logger *slog.Logger) {
	err := w.cmd.Wait()
	close(w.done)

	s.mu.Lock()
	_, tracked := s.workers[w.handle.ID]
	delete(s.workers, w.handle.ID)
	_, requested := s.stopping[w.handle.ID]
	delete(s.stopping, w.handle.ID)
	s.mu.Unlock()

	uptime := time.Since(w.handle.StartedAt).Round(time.Second)
	switch {
	case requested || !tracked:
		logger.Debug("worker exited after termination", logging.Duration("uptime", uptime))
	case err != nil:
		logging.WarnWithContext(logger, "worker exited unexpectedly", "worker_exit",
			logging.Error(err),
			logging.Duration("uptime", uptime),
			logging.String(logging.FieldErrorHint, "check that the Steam client is running and logged in"),
			logging.String(logging.FieldImpact, "session is no longer active"),
		)
	default:
		logging.WarnWithContext(logger, "worker exited", "worker_exit",
			logging.Duration("uptime", uptime),
			logging.String(logging.FieldImpact, "session is no longer active"),
		)
	}
}

// Send writes cmd to the worker's control channel.
func (s *Supervisor) Send(id string, cmd workerproto.Command) error {
	payload, err := workerproto.Encode(cmd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	w, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("send %s to %s: %w", cmd.Type, id, ErrWorkerNotFound)
	}
	if w.stdin == nil {
		return fmt.Errorf("send %s to %s: %w", cmd.Type, id, ErrNoControlChannel)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	select {
	case <-w.done:
		return fmt.Errorf("send %s to %s: %w", cmd.Type, id, ErrWorkerNotFound)
	default:
	}
	if _, err := w.stdin.Write(payload); err != nil {
		return fmt.Errorf("send %s to %s: %w", cmd.Type, id, err)
	}
	return nil
}

// Terminate signals the worker's process group and stops tracking it. It
// does not wait for the process to exit.
func (s *Supervisor) Terminate(id string) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
		s.stopping[id] = struct{}{}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("terminate %s: %w", id, ErrWorkerNotFound)
	}
	return s.signal(w)
}

// TerminateAll signals every tracked worker. The active set is cleared even
// when some signals fail; those failures are joined into the returned error.
func (s *Supervisor) TerminateAll() error {
	s.mu.Lock()
	victims := make([]*worker, 0, len(s.workers))
	for id, w := range s.workers {
		victims = append(victims, w)
		s.stopping[id] = struct{}{}
	}
	clear(s.workers)
	s.mu.Unlock()

	var errs []error
	for _, w := range victims {
		if err := s.signal(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) signal(w *worker) error {
	if w.stdin != nil {
		w.writeMu.Lock()
		_ = w.stdin.Close()
		w.writeMu.Unlock()
	}
	err := terminateProcess(w.cmd)
	go func() {
		select {
		case <-w.done:
		case <-time.After(s.killGrace):
			killProcess(w.cmd)
		}
	}()
	if err != nil {
		return fmt.Errorf("terminate worker %s (app %s, pid %d): %w", w.handle.ID, w.handle.AppID, w.handle.PID, err)
	}
	s.logger.Info("worker terminated",
		logging.AppID(uint32(w.handle.AppID)),
		logging.String(logging.FieldWorkerID, w.handle.ID),
		logging.Int("pid", w.handle.PID),
	)
	return nil
}

// Active returns the tracked workers ordered by start time.
func (s *Supervisor) Active() []Handle {
	s.mu.Lock()
	out := make([]Handle, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.handle)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Handle) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Wait blocks until every spawned worker has been reaped or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
