package controller

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/canopy-network/roscax/app/query/types"
	"github.com/canopy-network/roscax/pkg/metrics"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(c.withMetrics)

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	if c.App.Registry != nil {
		r.Handle("/metrics", metrics.Handler(c.App.Registry)).Methods(http.MethodGet)
	}
	r.HandleFunc("/entities", c.HandleEntities).Methods(http.MethodGet)

	r.HandleFunc("/circles", c.HandleCircles).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}", c.HandleCircle).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/rounds", c.HandleRounds).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/deposits", c.HandleDeposits).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/participants", c.HandleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/circles", c.HandleAccountCircles).Methods(http.MethodGet)

	// WebSocket endpoint for real-time circle updates
	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

// withMetrics records request counts and latency per route template.
func (c *Controller) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		// the websocket upgrade needs the raw writer for Hijack
		if route == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		c.App.Metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
