package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/iago/technoshare-commentator/internal/service"
	"github.com/iago/technoshare-commentator/internal/slack"
)

const maxEventBodyBytes = 1 << 20

// Events is the signed ingestion endpoint. Every accepted delivery is
// acknowledged with 200 so the platform does not retry it.
func (api *API) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}

	result, err := api.ingestService.HandleEvent(
		r.Context(),
		r.Header.Get(slack.HeaderTimestamp),
		r.Header.Get(slack.HeaderSignature),
		body,
	)
	if err != nil {
		api.writeIngestError(w, r, err)
		return
	}

	switch result.Outcome {
	case service.OutcomeChallenge:
		writeJSON(w, http.StatusOK, map[string]string{"challenge": result.Challenge})
	case service.OutcomeIgnored:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (api *API) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, slack.ErrInvalidSignature):
		writeError(w, r, http.StatusUnauthorized, "invalid_signature", "signature mismatch")
	case errors.Is(err, slack.ErrMissingHeaders),
		errors.Is(err, slack.ErrInvalidTimestamp),
		errors.Is(err, slack.ErrStaleTimestamp):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrMalformedEvent):
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "malformed event payload")
	default:
		api.logger.Error("event ingestion failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to record event")
	}
}
