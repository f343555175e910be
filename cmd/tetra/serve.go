package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/tetra-web/tetra/internal/config"
	"github.com/tetra-web/tetra/pkg/entity"
	"github.com/tetra-web/tetra/pkg/reactive"
	"github.com/tetra-web/tetra/pkg/realtime"
	"github.com/tetra-web/tetra/pkg/state"
	"github.com/tetra-web/tetra/pkg/state/refcodec"
	"github.com/tetra-web/tetra/pkg/upload"
)

func serveCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tetra server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Project directory")
	return cmd
}

// app holds everything the composition root wires together.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	codec      *state.Codec
	entities   entity.Store
	uploads    *upload.DiskStore
	dispatcher *realtime.Dispatcher
	rules      *realtime.Rules
	groups     *realtime.GroupRegistry
	bus        realtime.Bus
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.shutdown()

	router := a.routes()
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploadMaxAge, err := cfg.UploadMaxAgeDuration()
	if err != nil {
		return err
	}
	go sweepUploads(ctx, a.uploads, uploadMaxAge, uploadSweepInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Address, "name", cfg.Name)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	secret, err := cfg.SecretBytes()
	if err != nil {
		return nil, err
	}
	keys, err := state.NewKeyRing(secret)
	if err != nil {
		return nil, err
	}
	maxAge, err := cfg.TokenMaxAgeDuration()
	if err != nil {
		return nil, err
	}

	// Entity store.
	entityRegistry := entity.NewRegistry()
	store, err := openEntityStore(cfg, entityRegistry)
	if err != nil {
		return nil, err
	}

	// Uploads.
	uploads, err := upload.NewDiskStore(cfg.Upload.Dir, int64(cfg.Upload.MaxSizeMB)<<20)
	if err != nil {
		return nil, err
	}

	// Snapshot codec over the shared registries.
	refs := refcodec.NewRegistry()
	refcodec.RegisterBuiltins(refs, store, nil)
	components := state.NewTypeTable()
	objects := state.NewTypeTable()

	codecCfg := state.DefaultCodecConfig()
	codecCfg.MaxAge = maxAge
	codec := state.NewCodec(keys,
		&state.Encoder{Refs: refs, Components: components, Objects: objects},
		&state.Decoder{Refs: refs, Components: components, Objects: objects},
		codecCfg)

	// Realtime fabric.
	groups := realtime.NewGroupRegistry()
	rules := realtime.NewRules(groups)
	rules.PrivateNamespace = cfg.Realtime.PrivateNamespace

	bus, err := openBus(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	var pub realtime.Publisher
	if cfg.Realtime.AsyncPublish {
		pub = &realtime.AsyncPublisher{Bus: bus, Logger: logger}
	} else {
		pub = &realtime.SyncPublisher{Bus: bus}
	}

	metrics := realtime.DefaultMetrics()
	dispatcher := realtime.NewDispatcher(pub,
		realtime.WithDispatcherLogger(logger),
		realtime.WithDispatcherMetrics(metrics))

	return &app{
		cfg:        cfg,
		logger:     logger,
		codec:      codec,
		entities:   store,
		uploads:    uploads,
		dispatcher: dispatcher,
		rules:      rules,
		groups:     groups,
		bus:        bus,
	}, nil
}

func openEntityStore(cfg *config.Config, registry *entity.Registry) (entity.Store, error) {
	if cfg.Database.Driver == "" {
		return entity.NewMemoryStore(registry), nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var dialect entity.SQLDialect
	switch cfg.Database.Driver {
	case "postgres", "pgx":
		dialect = entity.DialectPostgreSQL
	case "mysql":
		dialect = entity.DialectMySQL
	case "sqlite":
		dialect = entity.DialectSQLite
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	store := entity.NewSQLStore(db, registry, entity.WithSQLDialect(dialect))
	if err := store.CreateTable(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openBus(cfg *config.Config, logger *slog.Logger) (realtime.Bus, error) {
	if cfg.Realtime.NATSURL == "" {
		return realtime.NewLocalBus(), nil
	}

	nc, err := nats.Connect(cfg.Realtime.NATSURL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return realtime.NewNATSBus(nc, realtime.WithNATSLogger(logger)), nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(reactive.CorrelationMiddleware)

	rt := realtime.NewServer(resolveSession, a.rules, a.bus,
		realtime.WithServerLogger(a.logger),
		realtime.WithServerMetrics(realtime.DefaultMetrics()))
	r.Handle("/realtime", rt)

	uploadCfg := upload.DefaultConfig()
	uploadCfg.MaxFileSize = int64(a.cfg.Upload.MaxSizeMB) << 20
	r.Method(http.MethodPost, "/upload", upload.HandlerWithConfig(a.uploads, uploadCfg))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

// resolveSession attaches the caller's session identity to a realtime
// upgrade. The session cookie is issued by the host application; the
// principal headers come from the fronting auth layer.
func resolveSession(r *http.Request) (realtime.Identity, error) {
	cookie, err := r.Cookie("tetra_session")
	if err != nil || cookie.Value == "" {
		return realtime.Identity{}, errors.New("no session")
	}
	return realtime.Identity{
		SessionID: cookie.Value,
		Principal: r.Header.Get("X-Tetra-Principal"),
		Admin:     r.Header.Get("X-Tetra-Admin") == "1",
	}, nil
}

// uploadSweepInterval is how often unclaimed uploads are checked for
// expiry. Retention itself is the configured upload maxAge.
const uploadSweepInterval = 15 * time.Minute

// sweepUploads periodically evicts unclaimed uploads older than maxAge.
// It returns when ctx is cancelled.
func sweepUploads(ctx context.Context, store *upload.DiskStore, maxAge, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(ctx, maxAge); err != nil {
				logger.Error("upload cleanup error", "error", err)
			}
		}
	}
}

func (a *app) shutdown() {
	if err := a.bus.Close(); err != nil {
		a.logger.Error("bus close error", "error", err)
	}
	if err := a.entities.Close(); err != nil {
		a.logger.Error("entity store close error", "error", err)
	}
}
