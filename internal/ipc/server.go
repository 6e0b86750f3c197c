package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"batchvec/internal/api"
	"batchvec/internal/daemon"
	"batchvec/internal/engine"
	"batchvec/internal/logging"
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
}

// NewServer configures the IPC server at the given socket path. shutdown is
// invoked when a client requests the daemon process to exit; it may be nil.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, shutdown func()) (*Server, error) {
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

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx, shutdown: shutdown}
	if err := rpcServer.RegisterName("Batchvec", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun batchvec stop"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) QueueGet(_ QueueGetRequest, resp *QueueGetResponse) error {
	d, err := s.daemon.Dispatcher()
	if err != nil {
		return err
	}
	view, err := d.Handle(s.ctx, api.MsgQueueGet, nil)
	if err != nil {
		return err
	}
	resp.View = viewOf(view)
	return nil
}

func (s *service) QueueAdd(req QueueAddRequest, resp *QueueAddResponse) error {
	d, err := s.daemon.Dispatcher()
	if err != nil {
		return err
	}
	added, err := d.Add(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = added
	s.logger.Info("batch submitted via IPC",
		logging.String(logging.FieldEventType, "ipc_queue_add"),
		logging.Int("items", added.Accepted))
	return nil
}

func (s *service) QueuePause(_ QueueControlRequest, resp *QueueControlResponse) error {
	return s.control(api.MsgQueuePause, resp)
}

func (s *service) QueueResume(_ QueueControlRequest, resp *QueueControlResponse) error {
	return s.control(api.MsgQueueResume, resp)
}

func (s *service) QueueCancel(_ QueueControlRequest, resp *QueueControlResponse) error {
	return s.control(api.MsgQueueCancel, resp)
}

func (s *service) control(msgType string, resp *QueueControlResponse) error {
	d, err := s.daemon.Dispatcher()
	if err != nil {
		return err
	}
	if _, err := d.Handle(s.ctx, msgType, nil); err != nil {
		return err
	}
	view, err := d.Handle(s.ctx, api.MsgQueueGet, nil)
	if err != nil {
		return err
	}
	v := viewOf(view)
	resp.IsPaused = v.IsPaused
	resp.IsProcessing = v.IsProcessing
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	d, err := s.daemon.Dispatcher()
	if err != nil {
		return err
	}
	payload, err := encode(api.NameRequest{Name: req.Name})
	if err != nil {
		return err
	}
	if _, err := d.Handle(s.ctx, api.MsgRetry, payload); err != nil {
		return err
	}
	resp.Retried = true
	return nil
}

func (s *service) ConfigGet(_ ConfigGetRequest, resp *ConfigGetResponse) error {
	d, err := s.daemon.Dispatcher()
	if err != nil {
		return err
	}
	result, err := d.Handle(s.ctx, api.MsgConfigGet, nil)
	if err != nil {
		return err
	}
	cfg, _ := result.(api.ConfigResponse)
	resp.Settings = cfg.Settings
	resp.SupportedLanguages = cfg.SupportedLanguages
	return nil
}

func (s *service) ConfigSet(req ConfigSetRequest, resp *ConfigSetResponse) error {
	d, err := s.daemon.Dispatcher()
	if err != nil {
		return err
	}
	updated, err := d.ApplyConfig(s.ctx, req)
	if err != nil {
		return err
	}
	resp.Settings = updated
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return err
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	if s.shutdown == nil {
		return errors.New("shutdown not supported by this daemon")
	}
	s.logger.Info("shutdown requested via IPC", logging.String(logging.FieldEventType, "ipc_shutdown"))
	resp.Accepted = true
	go s.shutdown()
	return nil
}

func viewOf(result any) engine.View {
	view, _ := result.(engine.View)
	return view
}

func encode(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
