package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/http/middleware"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/service"
)

type API struct {
	ingestService *service.IngestService
	jobsService   *service.JobsService
	logger        *logger.Logger
}

func NewAPI(ingestService *service.IngestService, jobsService *service.JobsService, log *logger.Logger) *API {
	if log == nil {
		log = logger.NewNop()
	}
	return &API{
		ingestService: ingestService,
		jobsService:   jobsService,
		logger:        log,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

type jobView struct {
	ID        int64            `json:"id"`
	ChannelID string           `json:"channel_id"`
	MessageTS string           `json:"message_ts"`
	Status    domain.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	UserID    string           `json:"user_id,omitempty"`
	Text      string           `json:"text,omitempty"`
}

func newJobView(job domain.Job) jobView {
	return jobView{
		ID:        job.ID,
		ChannelID: job.ChannelID,
		MessageTS: job.MessageTS,
		Status:    job.Status,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func newJobDetailView(detail *domain.JobDetail) jobView {
	view := newJobView(detail.Job)
	view.UserID = detail.UserID
	view.Text = detail.Text
	return view
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}
