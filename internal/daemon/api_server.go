package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"batchvec/internal/api"
	"batchvec/internal/bridge"
	"batchvec/internal/config"
	"batchvec/internal/logging"
)

// maxBodyBytes bounds request bodies; a batch carries its image data inline.
const maxBodyBytes = 512 << 20

type apiServer struct {
	bind       string
	token      string
	origins    map[string]struct{}
	logger     *slog.Logger
	daemon     *Daemon
	dispatcher *api.Dispatcher
	hub        *bridge.Hub

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, dispatcher *api.Dispatcher, hub *bridge.Hub, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:       strings.TrimSpace(cfg.Paths.APIBind),
		token:      strings.TrimSpace(cfg.Paths.APIToken),
		origins:    make(map[string]struct{}),
		logger:     logging.NewComponentLogger(logger, "api-server"),
		daemon:     d,
		dispatcher: dispatcher,
		hub:        hub,
	}
	for _, origin := range cfg.Paths.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			srv.origins[strings.ToLower(origin)] = struct{}{}
		}
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.token))

		// The socket outlives any request timeout.
		r.Handle("/ws", s.hub)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(s.requestContext)

			r.Get("/api/status", s.handleStatus)
			r.Route("/api/queue", func(r chi.Router) {
				r.Get("/", s.handleQueueGet)
				r.Post("/", s.handleQueueAdd)
				r.Post("/pause", s.handleMessage(api.MsgQueuePause))
				r.Post("/resume", s.handleMessage(api.MsgQueueResume))
				r.Post("/cancel", s.handleMessage(api.MsgQueueCancel))
				r.Post("/items/{name}/retry", s.handleRetry)
			})
			r.Get("/api/config", s.handleMessage(api.MsgConfigGet))
			r.Put("/api/config", s.handleConfigPut)
			r.Post("/api/downloads/suggest", s.handleSuggest)
			r.Post("/api/messages", s.handleEnvelope)
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestContext copies chi's request id into the logging context.
func (s *apiServer) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logging.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(s.origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := s.origins[strings.ToLower(origin)]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	s.reply(w, r, api.MsgQueueGet, nil)
}

func (s *apiServer) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req api.AddRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.dispatcher.Add(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	payload, _ := json.Marshal(api.NameRequest{Name: chi.URLParam(r, "name")})
	s.reply(w, r, api.MsgRetry, payload)
}

func (s *apiServer) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var patch api.ConfigPatch
	if !s.decode(w, r, &patch) {
		return
	}
	updated, err := s.dispatcher.ApplyConfig(r.Context(), patch)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.NewConfigResponse(updated))
}

func (s *apiServer) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req api.SuggestRequest
	if !s.decode(w, r, &req) {
		return
	}
	payload, _ := json.Marshal(req)
	s.reply(w, r, api.MsgSuggest, payload)
}

func (s *apiServer) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	var env bridge.Envelope
	if !s.decode(w, r, &env) {
		return
	}
	s.reply(w, r, env.Type, env.Data)
}

func (s *apiServer) handleMessage(msgType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.reply(w, r, msgType, nil)
	}
}

func (s *apiServer) reply(w http.ResponseWriter, r *http.Request, msgType string, data json.RawMessage) {
	result, err := s.dispatcher.Handle(r.Context(), msgType, data)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := api.ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Warn("api request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
