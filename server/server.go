package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"DeckPilot/logger"

	"github.com/gorilla/mux"
)

// NewRouter wires the API routes.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()

	// CORS
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/login", h.LoginHandler).Methods(http.MethodPost)

	// session control
	router.HandleFunc("/api/session", h.AuthMiddleware(h.StatusHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/session", h.AuthMiddleware(h.StartSessionHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/session", h.AuthMiddleware(h.StopSessionHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/session/load", h.AuthMiddleware(h.LoadNowHandler)).Methods(http.MethodPost)

	// library
	router.HandleFunc("/api/tracks", h.AuthMiddleware(h.GetTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/match", h.AuthMiddleware(h.MatchHandler)).Methods(http.MethodGet)

	// archived reports
	router.HandleFunc("/api/reports", h.AuthMiddleware(h.ReportsHandler)).Methods(http.MethodGet)
	router.PathPrefix("/api/reports/").HandlerFunc(h.AuthMiddleware(h.ReportHandler)).Methods(http.MethodGet)

	router.HandleFunc("/ws/status", h.AuthMiddleware(h.StatusStreamHandler)).Methods(http.MethodGet)

	return router
}

// Start serves handler on addr until ctx is done, then shuts down
// gracefully.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	// server timeouts
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Stopping a session waits for its cleanup pass.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	// give in-flight requests five seconds
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
