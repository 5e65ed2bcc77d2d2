package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	adapthttp "fitstatus/internal/adapter/http"
	"fitstatus/internal/adapter/memory"
	"fitstatus/internal/adapter/postgres"
	"fitstatus/internal/adapter/sqlite"
	"fitstatus/internal/app"
	"fitstatus/internal/config"
	"fitstatus/internal/domain"
	"fitstatus/internal/querycache"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "fitstatus",
		Short:        "Absence status and body projection service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(newServeCmd(&envFile), newCreateUserCmd(&envFile))
	return root
}

// stores bundles the repositories of one backend.
type stores struct {
	absences domain.AbsenceRepository
	users    domain.UserRepository
	sessions domain.SessionRepository
	ping     func(context.Context) error
	close    func() error
}

func openStores(cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &stores{absences: db, users: db, sessions: postgres.NewSessionRepo(db), ping: db.Ping, close: db.Close}, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return &stores{absences: db, users: db, sessions: sqlite.NewSessionRepo(db), ping: db.Ping, close: db.Close}, nil
	case config.StoreMemory:
		db := memory.New()
		return &stores{absences: db, users: db, sessions: db.NewSessionRepo(), close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func loadConfig(envFile string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	st, err := openStores(cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := st.close(); err != nil {
			log.WithError(err).Warn("closing store")
		}
	}()

	cache := querycache.New(querycache.Options{
		Size:   cfg.CacheSize,
		GCTime: cfg.CacheGCTime,
		Logger: log.WithField("component", "querycache"),
	})
	identity := app.ContextIdentity{}
	absenceSvc := app.NewAbsenceService(st.absences, identity, cache, log)
	projectionSvc := app.NewProjectionService(identity, cache, log)
	authSvc := app.NewAuthService(st.users, st.sessions, log)

	var oidcCfg adapthttp.OIDCConfig
	if cfg.ForwardAuth {
		log.Warn("forward auth enabled: Remote-User is trusted, the proxy must strip it from client requests")
	}
	if cfg.OIDC.Enabled() {
		oidcCfg, err = adapthttp.NewOIDCConfig(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			return err
		}
		log.WithField("issuer", cfg.OIDC.Issuer).Info("sso enabled")
	}

	h := adapthttp.New(absenceSvc, projectionSvc, authSvc, adapthttp.Options{
		WebDir:      cfg.WebDir,
		Ping:        st.ping,
		OIDC:        oidcCfg,
		CORSOrigins: cfg.CORSOrigins,
		ForwardAuth: cfg.ForwardAuth,
		Logger:      log,
	}).Handler()
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          newStdLogger(log),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "store": cfg.Store}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweepSessions(ctx, authSvc, cfg.SessionSweepInterval, log)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		cache.Wait()
		log.Info("server stopped")
		return err
	})
	return g.Wait()
}

func sweepSessions(ctx context.Context, auth *app.AuthService, every time.Duration, log logrus.FieldLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := auth.PurgeExpiredSessions(ctx)
			if err != nil {
				log.WithError(err).Warn("session sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("deleted", n).Debug("expired sessions purged")
			}
		}
	}
}

func newCreateUserCmd(envFile *string) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create the initial user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			return createUser(cmd.Context(), cfg, log, cmd.OutOrStdout(), username, password)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "password, at least 8 characters")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func createUser(ctx context.Context, cfg *config.Config, log *logrus.Logger, out io.Writer, username, password string) error {
	st, err := openStores(cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() { _ = st.close() }()

	u, err := app.NewAuthService(st.users, st.sessions, log).CreateInitialUser(ctx, username, password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "created user %s (%s)\n", u.Username, u.ID)
	return err
}

// newStdLogger routes net/http server errors into logrus.
func newStdLogger(log *logrus.Logger) *stdlog.Logger {
	return stdlog.New(log.WriterLevel(logrus.ErrorLevel), "", 0)
}
