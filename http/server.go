package http

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/quantonganh/bulletin"
)

const (
	shutdownTimeout = 1 * time.Second
)

// PageRenderer renders the HTML pages shown after following an email link
type PageRenderer interface {
	Page(title string, intros ...string) (string, error)
}

// Server represents HTTP server
type Server struct {
	ln     net.Listener
	server *http.Server
	router *mux.Router

	Addr      string
	Domain    string
	JWTSecret string

	SubscriptionService bulletin.SubscriptionService
	DispatchService     bulletin.DispatchService
	Pages               PageRenderer
}

// NewServer create new HTTP server
func NewServer(logger zerolog.Logger) *Server {
	s := &Server{
		server: &http.Server{},
		router: mux.NewRouter().StrictSlash(true),
	}

	s.router.Use(hlog.NewHandler(logger))
	s.router.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	s.router.Use(hlog.UserAgentHandler("user_agent"))
	s.router.Use(hlog.RefererHandler("referer"))
	s.router.Use(hlog.RequestIDHandler("req_id", "Request-Id"))

	sentryHandler := sentryhttp.New(sentryhttp.Options{})
	s.router.Use(sentryHandler.Handle)

	s.server.Handler = http.HandlerFunc(s.serveHTTP)

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	newsletterRouter := s.router.PathPrefix("/newsletter").Subrouter()
	newsletterRouter.HandleFunc("/subscribe", s.Error(s.subscribeHandler)).Methods(http.MethodPost)
	newsletterRouter.HandleFunc("/confirm/{token}", s.Error(s.confirmHandler)).Methods(http.MethodGet)
	newsletterRouter.HandleFunc("/unsubscribe/{token}", s.Error(s.unsubscribeHandler)).Methods(http.MethodGet)

	adminRouter := s.router.PathPrefix("/admin/newsletter").Subrouter()
	adminRouter.Use(s.requireAdmin)
	adminRouter.HandleFunc("/subscribers", s.Error(s.listSubscribersHandler)).Methods(http.MethodGet)
	adminRouter.HandleFunc("/subscribers/{email}", s.Error(s.adminUnsubscribeHandler)).Methods(http.MethodDelete)
	adminRouter.HandleFunc("/send", s.Error(s.sendHandler)).Methods(http.MethodPost)

	return s
}

// Scheme returns scheme
func (s *Server) Scheme() string {
	if s.UseTLS() {
		return "https"
	}
	return "http"
}

// UseTLS checks if server use TLS or not
func (s *Server) UseTLS() bool {
	return s.Domain != ""
}

// Port returns server port
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// URL returns server URL
func (s *Server) URL() string {
	scheme, port := s.Scheme(), s.Port()

	domain := "localhost"
	if s.Domain != "" {
		domain = s.Domain
	}

	if port == 80 || port == 443 || flag.Lookup("test.v") != nil {
		return fmt.Sprintf("%s://%s", scheme, domain)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, domain, s.Port())
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Open opens a connection to HTTP server
func (s *Server) Open() (err error) {
	s.ln, err = net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Errorf("failed to listen to port %s: %v", s.Addr, err)
	}

	go func() {
		_ = s.server.Serve(s.ln)
	}()

	return nil
}

// Close shutdowns HTTP server
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
