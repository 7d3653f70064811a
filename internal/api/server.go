package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viniciushammett/go-log-relearn/internal/actions"
	"github.com/viniciushammett/go-log-relearn/internal/detector"
	"github.com/viniciushammett/go-log-relearn/internal/ingest"
	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/metrics"
)

var tracer = otel.Tracer("api")

const maxBody = 8 << 20

type Deps struct {
	Log      *logger.Logger
	Service  *ingest.Service
	Actions  *actions.Dispatcher
	Versions func() ([]string, error)
}

type Config struct {
	Addr        string
	AuthToken   string // vazio: rotas admin abertas
	CORSOrigins []string
}

type Server struct {
	d Deps
	c Config
}

func NewServer(d Deps, c Config) *Server { return &Server{d: d, c: c} }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if len(s.c.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.c.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { metrics.Handler().ServeHTTP(w, r) })

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/ingest", s.handleIngest)
		v1.Post("/fit", s.admin(s.handleFit))
		v1.Post("/retrain", s.admin(s.handleRetrain))
		v1.Post("/actions/restart_agent", s.handleRestartAgent)
		v1.Get("/patterns", s.handlePatterns)
		v1.Get("/models", s.handleModels)
	})
	return s.d.Log.HTTP(r)
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.c.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.d.Log.Info().Str("addr", s.c.Addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.c.AuthToken != "" {
			got := r.Header.Get("Authorization")
			if !strings.HasPrefix(got, "Bearer ") || strings.TrimPrefix(got, "Bearer ") != s.c.AuthToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Service.Health())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /v1/ingest")
	defer span.End()

	var ev ingest.Event
	if err := decode(w, r, &ev); err != nil || strings.TrimSpace(ev.Message) == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	res := s.d.Service.Ingest(ctx, ev)
	span.SetAttributes(
		attribute.String("source", ev.Source),
		attribute.String("label", res.Label),
		attribute.Float64("distance", res.Distance),
	)
	writeJSON(w, http.StatusOK, res)
}

type fitReq struct {
	Messages []string `json:"messages"`
	K        int      `json:"k"`
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "POST /v1/fit")
	defer span.End()

	var req fitReq
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("messages", len(req.Messages)), attribute.Int("k", req.K))
	version, err := s.d.Service.Fit(req.Messages, req.K)
	switch {
	case errors.Is(err, detector.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.d.Log.Error().Err(err).Msg("fit")
		http.Error(w, "fit failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /v1/retrain")
	defer span.End()

	res := s.d.Service.Retrain(ctx)
	span.SetAttributes(attribute.Bool("ok", res.OK), attribute.Int("signatures", len(res.Triggered)))
	writeJSON(w, http.StatusOK, res)
}

type restartReq struct {
	Provider string `json:"provider"`
	Host     string `json:"host"`
}

func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /v1/actions/restart_agent")
	defer span.End()

	var req restartReq
	if err := decode(w, r, &req); err != nil || req.Provider == "" || req.Host == "" {
		http.Error(w, "provider and host are required", http.StatusBadRequest)
		return
	}
	res := s.d.Actions.RestartAgent(ctx, req.Provider, req.Host)
	writeJSON(w, statusFor(res), res)
}

func statusFor(res actions.Result) int {
	switch res.Kind() {
	case actions.KindSucceeded:
		return http.StatusOK
	case actions.KindUnknownProvider:
		return http.StatusNotFound
	case actions.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.d.Service.Patterns(limit))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	versions := []string{}
	if s.d.Versions != nil {
		v, err := s.d.Versions()
		if err != nil {
			s.d.Log.Error().Err(err).Msg("list model versions")
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
		versions = v
	}
	h := s.d.Service.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"current":  h.ModelVersion,
		"loaded":   h.ModelLoaded,
		"versions": versions,
	})
}
