// Package api exposes a coprocessor over the HTTP gateway protocol consumed
// by the gateway client.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/log"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
	shutdownTimeout   = 10 * time.Second
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host        string
	Port        int
	Coprocessor *coprocessor.Coprocessor
}

// API type represents the gateway HTTP server.
type API struct {
	router *chi.Mux
	cp     *coprocessor.Coprocessor
	addr   string
}

// New creates a new API instance with the given configuration. The server
// is not started until ListenAndServe is called.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Coprocessor == nil {
		return nil, fmt.Errorf("missing coprocessor instance")
	}
	a := &API{
		cp:   conf.Coprocessor,
		addr: net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// ListenAndServe serves the API until ctx is done, then shuts the server
// down gracefully.
func (a *API) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("starting API server", "addr", a.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Infow("API server stopped", "addr", a.addr)
	return nil
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", KeysEndpoint, "method", "GET")
	a.router.Get(KeysEndpoint, a.keys)
	// inputs
	log.Infow("register handler", "endpoint", InputProofEndpoint, "method", "POST")
	a.router.Post(InputProofEndpoint, a.inputProof)
	// decryption
	log.Infow("register handler", "endpoint", UserDecryptEndpoint, "method", "POST")
	a.router.Post(UserDecryptEndpoint, a.userDecrypt)
	log.Infow("register handler", "endpoint", PublicDecryptEndpoint, "method", "POST")
	a.router.Post(PublicDecryptEndpoint, a.publicDecrypt)
	// computation
	log.Infow("register handler", "endpoint", ComputeEndpoint, "method", "POST")
	a.router.Post(ComputeEndpoint, a.compute)
	// acl
	log.Infow("register handler", "endpoint", ACLAllowEndpoint, "method", "POST")
	a.router.Post(ACLAllowEndpoint, a.allow)
	log.Infow("register handler", "endpoint", ACLPublicEndpoint, "method", "POST")
	a.router.Post(ACLPublicEndpoint, a.makePublic)
	log.Infow("register handler", "endpoint", ACLAllowedEndpoint, "method", "GET")
	a.router.Get(ACLAllowedEndpoint, a.isAllowed)

	a.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrResourceNotFound.With(r.URL.Path).Write(w)
	})
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(requestIDMiddleware)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
