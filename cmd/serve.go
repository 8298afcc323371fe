package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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

	"github.com/sells-group/sportsfeed/internal/dataset"
	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/monitoring"
	"github.com/sells-group/sportsfeed/internal/source"
	"github.com/sells-group/sportsfeed/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server and background alert checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Service),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Service, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter mounts the status and dataset endpoints. Only /datasets
// fetches data; every /status route is a read.
func buildRouter(svc *dataset.Service, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		st, err := svc.Status(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Get("/status/quota", func(w http.ResponseWriter, req *http.Request) {
		st, err := svc.Status(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quota": st.Quota, "generated_at": st.GeneratedAt})
	})

	r.Get("/status/quality", func(w http.ResponseWriter, req *http.Request) {
		st, err := svc.Status(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, st.Overall)
	})

	r.Get("/reports", func(w http.ResponseWriter, req *http.Request) {
		st := svc.Store()
		if st == nil {
			writeError(w, http.StatusServiceUnavailable, eris.New("report history requires a store"))
			return
		}
		filter, err := reportFilter(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		reports, err := st.ListReports(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "count": len(reports)})
	})

	r.Get("/datasets/{domain}", func(w http.ResponseWriter, req *http.Request) {
		domain, err := model.ParseDomain(chi.URLParam(req, "domain"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		params := make(map[string]string)
		force := false
		for k, vs := range req.URL.Query() {
			if len(vs) == 0 {
				continue
			}
			if k == "force" {
				force, _ = strconv.ParseBool(vs[0])
				continue
			}
			params[k] = vs[0]
		}

		res, err := svc.Get(req.Context(), domain, params, dataset.Options{ForceRefresh: force})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, source.ErrSourcesExhausted) {
				status = http.StatusBadGateway
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	return r
}

func reportFilter(req *http.Request) (store.ReportFilter, error) {
	var f store.ReportFilter
	q := req.URL.Query()
	if d := q.Get("domain"); d != "" {
		domain, err := model.ParseDomain(d)
		if err != nil {
			return f, err
		}
		f.Domain = domain
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return f, eris.Errorf("invalid limit %q", l)
		}
		f.Limit = n
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, eris.Errorf("invalid since %q", s)
		}
		f.Since = t
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if errors.Is(err, source.ErrSourcesExhausted) {
		msg = "sources exhausted: " + msg
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
