// Package server wires HTTP handlers into a chi router for the relay's
// side endpoints.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures the health check, the websocket gateway and,
// when metrics is not nil, the metrics endpoint.
func SetupRoutes(hub *Hub, gateway http.Handler, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", HealthHandler(hub))
	r.Handle("/ws", gateway)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

// HealthHandler reports that the relay is up and how many clients are
// registered.
func HealthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "Chat relay is running! %d clients registered\n", hub.Count())
	}
}
