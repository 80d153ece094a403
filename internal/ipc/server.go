package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"idlefarm/internal/daemon"
	"idlefarm/internal/logging"
)

// ServiceName is the JSON-RPC service prefix.
const ServiceName = "Idlefarm"

const (
	defaultFollowWait = time.Second
	maxFollowWait     = 30 * time.Second
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer binds the socket at path, replacing any stale socket file.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Close stops accepting, drops open connections, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status()
	return nil
}

func (s *service) FarmSessions(req FarmSessionsRequest, resp *FarmResponse) error {
	var duration *time.Duration
	if req.DurationMinutes != nil {
		d := minutes(*req.DurationMinutes)
		duration = &d
	}
	if err := s.daemon.FarmSessions(s.ctx, req.AppIDs, duration); err != nil {
		return err
	}
	resp.Accepted = true
	resp.Message = fmt.Sprintf("farming %d game(s)", len(req.AppIDs))
	return nil
}

func (s *service) FarmAchievements(req FarmAchievementsRequest, resp *FarmResponse) error {
	var lo, hi *time.Duration
	if req.MinDelayMinutes != nil {
		d := minutes(*req.MinDelayMinutes)
		lo = &d
	}
	if req.MaxDelayMinutes != nil {
		d := minutes(*req.MaxDelayMinutes)
		hi = &d
	}
	if err := s.daemon.FarmAchievements(s.ctx, req.AppID, req.EventIDs, lo, hi); err != nil {
		return err
	}
	resp.Accepted = true
	resp.Message = fmt.Sprintf("scheduled %d unlock(s) for app %s", len(req.EventIDs), req.AppID)
	return nil
}

func (s *service) FarmCards(_ FarmCardsRequest, resp *FarmResponse) error {
	if err := s.daemon.FarmCards(); err != nil {
		return err
	}
	resp.Accepted = true
	resp.Message = "card discovery started"
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	resp.Stopped = s.daemon.StopFarming()
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	resp.Accepted = s.daemon.RequestShutdown()
	return nil
}

func (s *service) Logs(req LogsRequest, resp *LogsResponse) error {
	ctx := s.ctx
	if req.Follow {
		wait := time.Duration(req.WaitMillis) * time.Millisecond
		if wait <= 0 {
			wait = defaultFollowWait
		}
		wait = min(wait, maxFollowWait)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	events, next, err := s.daemon.Logs(ctx, req.Since, req.Limit, req.Follow, req.Tail)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if component := strings.TrimSpace(req.Component); component != "" {
		filtered := events[:0]
		for _, evt := range events {
			if strings.EqualFold(evt.Component, component) {
				filtered = append(filtered, evt)
			}
		}
		events = filtered
	}
	resp.Events = events
	resp.Next = next
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	runs, err := s.daemon.History(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Runs = runs
	return nil
}

func (s *service) RunCards(req RunCardsRequest, resp *RunCardsResponse) error {
	if strings.TrimSpace(req.RunID) == "" {
		return errors.New("run id required")
	}
	cards, err := s.daemon.RunCards(s.ctx, req.RunID)
	if err != nil {
		return err
	}
	resp.Cards = cards
	return nil
}

func (s *service) Search(req SearchRequest, resp *SearchResponse) error {
	games, err := s.daemon.Search(s.ctx, req.Term)
	if err != nil {
		return err
	}
	resp.Games = games
	return nil
}

func (s *service) Achievements(req AchievementsRequest, resp *AchievementsResponse) error {
	list, err := s.daemon.Achievements(s.ctx, req.AppID)
	if err != nil {
		return err
	}
	resp.Achievements = list
	return nil
}

func minutes(value float64) time.Duration {
	return time.Duration(value * float64(time.Minute))
}
