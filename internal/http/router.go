package httpserver

import (
	"net/http"

	"github.com/iago/technoshare-commentator/internal/http/handlers"
	"github.com/iago/technoshare-commentator/internal/http/middleware"
	"github.com/iago/technoshare-commentator/internal/logger"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *logger.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", deps.API.Health)
	mux.HandleFunc("POST /events", deps.API.Events)
	mux.HandleFunc("POST /slack/events", deps.API.Events)
	mux.HandleFunc("GET /v1/jobs", deps.API.ListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", deps.API.JobStatus)
	mux.HandleFunc("POST /v1/jobs/{id}/requeue", deps.API.RequeueJob)
	mux.HandleFunc("GET /v1/stats", deps.API.Stats)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
