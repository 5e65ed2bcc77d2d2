// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"fitstatus/internal/app"
	"fitstatus/internal/domain"
)

// OIDCConfig holds the single sign-on client. The zero value disables SSO.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config oauth2.Config
}

// NewOIDCConfig discovers issuer and builds the OAuth2 client for it.
func NewOIDCConfig(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (OIDCConfig, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return OIDCConfig{}, fmt.Errorf("oidc discovery: %w", err)
	}
	return OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	absence    *app.AbsenceService
	projection *app.ProjectionService
	authSvc    *app.AuthService

	webDir      string
	ping        func(context.Context) error
	oidcConfig  OIDCConfig
	corsOrigins []string
	forwardAuth bool
	log         logrus.FieldLogger

	// disableAuth serves every request as fixedUser.
	disableAuth bool
	fixedUser   *domain.User
}

// Options carries the non-service settings of a Server.
type Options struct {
	WebDir      string
	// Ping, when set, is checked by the health endpoint.
	Ping        func(context.Context) error
	OIDC        OIDCConfig
	CORSOrigins []string
	// ForwardAuth accepts the Remote-User header set by a trusted proxy.
	ForwardAuth bool
	Logger      logrus.FieldLogger
}

// New creates a Server wired to the given application services.
func New(as *app.AbsenceService, ps *app.ProjectionService, auth *app.AuthService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		absence:     as,
		projection:  ps,
		authSvc:     auth,
		webDir:      opts.WebDir,
		ping:        opts.Ping,
		oidcConfig:  opts.OIDC,
		corsOrigins: opts.CORSOrigins,
		forwardAuth: opts.ForwardAuth,
		log:         opts.Logger.WithField("component", "http"),
	}
}

// WithoutAuth skips authentication and serves every request as user. A nil
// user makes every request anonymous.
func (s *Server) WithoutAuth(user *domain.User) *Server {
	s.disableAuth = true
	s.fixedUser = user
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/auth/setup", s.handleSetupUser).Methods(http.MethodPost)
	api.HandleFunc("/auth/sso/login", s.handleSSOLogin).Methods(http.MethodGet)
	api.HandleFunc("/auth/sso/callback", s.handleSSOCallback).Methods(http.MethodGet)

	api.Handle("/absence/status", s.authMiddleware(http.HandlerFunc(s.handleAbsenceStatus))).Methods(http.MethodGet)
	api.Handle("/absence/start", s.authMiddleware(http.HandlerFunc(s.handleAbsenceStart))).Methods(http.MethodPost)
	api.Handle("/absence/end", s.authMiddleware(http.HandlerFunc(s.handleAbsenceEnd))).Methods(http.MethodPost)
	api.Handle("/absence/active", s.authMiddleware(http.HandlerFunc(s.handleAbsenceRecord))).Methods(http.MethodPut)

	api.Handle("/body/projection", s.authMiddleware(http.HandlerFunc(s.handleBodyProjection))).Methods(http.MethodGet)

	r.PathPrefix("/").Handler(spaFromDisk(s.webDir)).Methods(http.MethodGet, http.MethodHead)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.loggingMiddleware(withNoCache(r)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
