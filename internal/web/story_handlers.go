package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/engine"
)

const maxBodyBytes = 1 << 20

// MergeRequest reconciles two continuity states without touching the store
type MergeRequest struct {
	SeriesID string            `json:"series_id,omitempty"`
	Previous *continuity.State `json:"previous"`
	Next     *continuity.State `json:"next"`
	Episode  int               `json:"episode"`
	Mode     continuity.Mode   `json:"mode,omitempty"`
}

type MergeResponse struct {
	State  *continuity.State `json:"state"`
	Report continuity.Report `json:"report"`
}

type PromptResponse struct {
	Prompt string `json:"prompt"`
}

type MetricsResponse struct {
	Continuity continuity.MetricsSnapshot `json:"continuity"`
	Engine     engine.MetricsSnapshot     `json:"engine"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", engine.ErrInvalidRequest, err)
	}
	return nil
}

// PreviewPrompt returns the assembled prompt without calling the generator
func (h *Handlers) PreviewPrompt(w http.ResponseWriter, r *http.Request) {
	var req engine.EpisodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	prompt, err := h.engine.Prompt(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{Prompt: prompt})
}

func (h *Handlers) GenerateEpisode(w http.ResponseWriter, r *http.Request) {
	var req engine.EpisodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.engine.GenerateEpisode(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// MergeContinuity exposes the reconciler for callers that keep their own state.
func (h *Handlers) MergeContinuity(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mode := continuity.ParseMode(string(req.Mode))
	state, report := h.engine.Reconciler().Reconcile(req.SeriesID, req.Previous, req.Next, req.Episode, mode)
	writeJSON(w, http.StatusOK, MergeResponse{State: state, Report: report})
}

func (h *Handlers) ContinuityMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{
		Continuity: h.engine.Reconciler().Metrics().Snapshot(),
		Engine:     h.engine.Metrics().Snapshot(),
	})
}
