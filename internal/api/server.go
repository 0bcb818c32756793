package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"deskhooks/internal/auth"
	"deskhooks/internal/config"
	"deskhooks/internal/metrics"
	"deskhooks/internal/store"
	"deskhooks/internal/webhooks"
)

type Server struct {
	Service   *webhooks.Service
	Publisher *webhooks.Publisher
	Store     store.Store
	Auth      *auth.Verifier
	Log       *zap.Logger
	Config    *config.Config
}

func NewServer(svc *webhooks.Service, pub *webhooks.Publisher, st store.Store, v *auth.Verifier, cfg *config.Config, log *zap.Logger) *Server {
	return &Server{Service: svc, Publisher: pub, Store: st, Auth: v, Config: cfg, Log: log}
}

// OpenStore picks the backing store: Postgres when a database URL is set,
// otherwise memory. A Redis URL moves the delivery queue to Redis. The returned
// closer releases whatever was opened.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	var (
		s       store.Store
		closers []func() error
	)
	if cfg.Database.URL == "" {
		log.Info("using in-memory store")
		s = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pg.Close)
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		s = pg
	}
	if cfg.Redis.URL != "" {
		q, err := store.NewRedisQueue(cfg.Redis.URL)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		closers = append(closers, q.Close)
		s = store.WithQueue(s, q)
		log.Info("delivery queue on redis")
	}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close store", zap.Error(err))
			}
		}
	}
	return s, closeAll, nil
}

// Router wires every route onto a gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logMiddleware, metricsMiddleware)

	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.ReadyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.OpenAPIHandler).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.OpenAPIJSONHandler).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.DocsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/info", s.DebugJSON).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/event-types", s.EventTypesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.EmitHandler).Methods(http.MethodPost)

	wh := v1.PathPrefix("/webhooks").Subrouter()
	wh.Use(requireManager)
	wh.HandleFunc("", s.CreateWebhookHandler).Methods(http.MethodPost)
	wh.HandleFunc("", s.ListWebhooksHandler).Methods(http.MethodGet)
	wh.HandleFunc("/{id}", s.GetWebhookHandler).Methods(http.MethodGet)
	wh.HandleFunc("/{id}", s.UpdateWebhookHandler).Methods(http.MethodPatch)
	wh.HandleFunc("/{id}", s.DeleteWebhookHandler).Methods(http.MethodDelete)
	wh.HandleFunc("/{id}/toggle", s.ToggleWebhookHandler).Methods(http.MethodPost)
	wh.HandleFunc("/{id}/secret", s.RotateSecretHandler).Methods(http.MethodPost)
	wh.HandleFunc("/{id}/secret", s.RevealSecretHandler).Methods(http.MethodGet)
	wh.HandleFunc("/{id}/deliveries", s.ListDeliveriesHandler).Methods(http.MethodGet)
	wh.HandleFunc("/{id}/test", s.SendTestHandler).Methods(http.MethodPost)
	return r
}
