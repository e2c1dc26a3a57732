package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/pipeline"
	"github.com/sells-group/carefinder-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering runs and reading results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(ctx, env.Driver, env.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// runner is the part of the driver the API triggers.
type runner interface {
	Start(ctx context.Context, kind model.RunKind) (*pipeline.Run, error)
	Populate(ctx context.Context, kind model.RunKind) (int, *pipeline.Report, error)
	Last(kind model.RunKind) *pipeline.Run
}

// buildRouter wires the API. Runs started through it live on baseCtx, not
// on the request that started them.
func buildRouter(baseCtx context.Context, drv runner, st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/pipeline/{kind}", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
			kind, ok := runKind(w, req)
			if !ok {
				return
			}
			if _, err := drv.Start(baseCtx, kind); err != nil {
				writeRunError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "kind": string(kind)})
		})

		r.Post("/populate", func(w http.ResponseWriter, req *http.Request) {
			kind, ok := runKind(w, req)
			if !ok {
				return
			}
			count, report, err := drv.Populate(req.Context(), kind)
			if err != nil {
				writeRunError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "count": count, "report": report})
		})

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			kind, ok := runKind(w, req)
			if !ok {
				return
			}
			run := drv.Last(kind)
			if run == nil {
				writeError(w, http.StatusNotFound, "no run yet")
				return
			}
			writeJSON(w, http.StatusOK, run.Report())
		})
	})

	r.Get("/api/legal", func(w http.ResponseWriter, req *http.Request) {
		recs, err := st.ListLegalInfo(req.Context())
		if err != nil {
			internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(recs))
	})

	r.Get("/api/legal/{state}", func(w http.ResponseWriter, req *http.Request) {
		state, ok := model.LookupState(chi.URLParam(req, "state"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown state")
			return
		}
		rec, err := st.FindLegalInfo(req.Context(), state.Name)
		if err != nil {
			internalError(w, err)
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, "no legal information for "+state.Name)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Get("/api/clinics", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.ClinicFilter{Name: q.Get("name")}
		if s := q.Get("state"); s != "" {
			state, ok := model.LookupState(s)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown state")
				return
			}
			filter.State = state.Code
		}
		if l := q.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = n
		}
		recs, err := st.ListClinics(req.Context(), filter)
		if err != nil {
			internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(recs))
	})

	r.Post("/api/subscriptions", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Endpoint string `json:"endpoint"`
			State    string `json:"state"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		u, err := url.Parse(body.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeError(w, http.StatusBadRequest, "endpoint must be an http(s) URL")
			return
		}
		sub := &model.Subscription{Endpoint: body.Endpoint, CreatedAt: time.Now().UTC()}
		if body.State != "" {
			state, ok := model.LookupState(body.State)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown state")
				return
			}
			sub.State = state.Name
		}
		if err := st.AddSubscription(req.Context(), sub); err != nil {
			internalError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	})

	return r
}

func runKind(w http.ResponseWriter, req *http.Request) (model.RunKind, bool) {
	kind, ok := model.ParseRunKind(chi.URLParam(req, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run kind")
	}
	return kind, ok
}

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	internalError(w, err)
}

func internalError(w http.ResponseWriter, err error) {
	zap.L().Error("api: request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// orEmpty keeps empty lists encoding as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
