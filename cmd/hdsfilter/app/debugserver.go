package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-hds/hdsadapter/pkg/logging"
)

// DebugServer exposes /healthz, /metrics, /loglevel, and the single
// stream-status API operation, for local inspection while hdsfilter is
// running — optional, enabled only when cfg.DebugPort is non-zero.
type DebugServer struct {
	Router *chi.Mux
	filter *Filter
}

// NewDebugServer wires the debug HTTP surface for filter, registering
// reg's metrics under /metrics via promhttp, the same way
// cmd/livesim2/app/start.go mounts its own prometheus handler.
func NewDebugServer(filter *Filter, reg *prometheus.Registry, log *slog.Logger) *DebugServer {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(log))
	r.Use(middleware.Recoverer)

	for _, route := range logging.LogRoutes {
		r.MethodFunc(route.Method, route.Path, route.Handler)
	}
	r.MethodFunc(http.MethodGet, "/healthz", healthzHandlerFunc)
	r.Mount("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ds := &DebugServer{Router: r, filter: filter}
	r.Route("/api", createRouteAPI(ds))
	return ds
}

func healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// ListenAndServe runs the debug server until ctx is cancelled.
func (ds *DebugServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: ds.Router}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
