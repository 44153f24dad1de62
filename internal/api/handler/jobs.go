// Package handler implements the video job endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/internal/api/response"
	"github.com/kiranshivaraju/videojobs/internal/video"
	"github.com/kiranshivaraju/videojobs/pkg/models"
)

const maxBodyBytes = 1 << 20

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, p video.SubmitParams) (*models.VideoJob, error)
	Get(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error)
	List(ctx context.Context, channelID string, limit int) (*video.ListResult, error)
	Preview(ctx context.Context, id uuid.UUID) (*models.VideoJob, string, error)
	Approve(ctx context.Context, id uuid.UUID, title string) (*models.VideoJob, error)
	Reject(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	Regenerate(ctx context.Context, id uuid.UUID, prompt string) (*models.VideoJob, error)
}

type jobView struct {
	*models.VideoJob
	PreviewURL string `json:"preview_url,omitempty"`
}

func newJobView(job *models.VideoJob) jobView {
	v := jobView{VideoJob: job}
	if (job.Status == models.JobStatusReady || job.Status == models.JobStatusUploaded) && job.LocalPath != nil {
		v.PreviewURL = fmt.Sprintf("/api/v1/video-jobs/%s/preview", job.ID)
	}
	return v
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/video-jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt      string `json:"prompt"`
			ChannelID   string `json:"channel_id"`
			ChannelName string `json:"channel_name"`
			Title       string `json:"title"`
			IdeaText    string `json:"idea_text"`
		}
		if err := decodeBody(w, r, &req, true); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Submit(r.Context(), video.SubmitParams{
			Prompt:      req.Prompt,
			ChannelID:   req.ChannelID,
			ChannelName: req.ChannelName,
			Title:       req.Title,
			IdeaText:    req.IdeaText,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Created(w, newJobView(job))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/video-jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := r.URL.Query().Get("channel_id")
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		res, err := svc.List(r.Context(), channelID, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		views := make([]jobView, 0, len(res.Jobs))
		for _, job := range res.Jobs {
			views = append(views, newJobView(job))
		}
		response.Collection(w, views, response.ListMeta{
			Limit:         res.Limit,
			Count:         len(views),
			ChannelID:     channelID,
			ActiveCount:   res.ActiveCount,
			MaxActiveJobs: res.MaxActive,
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/video-jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, newJobView(job))
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/video-jobs/{jobID}/status.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		status, err := svc.Status(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "status": status})
	}
}

// NewPreviewHandler returns an http.HandlerFunc that streams the job's video.
func NewPreviewHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		_, path, err := svc.Preview(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		f, err := os.Open(path)
		if err != nil {
			writeServiceError(w, r, fmt.Errorf("%w: %v", video.ErrArtifactMissing, err))
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			writeServiceError(w, r, fmt.Errorf("%w: %v", video.ErrArtifactMissing, err))
			return
		}

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	}
}

// NewApproveHandler returns an http.HandlerFunc for POST /api/v1/video-jobs/{jobID}/approve.
func NewApproveHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeBody(w, r, &req, false); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Approve(r.Context(), id, req.Title)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, newJobView(job))
	}
}

// NewRejectHandler returns an http.HandlerFunc for POST /api/v1/video-jobs/{jobID}/reject.
func NewRejectHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		job, err := svc.Reject(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, newJobView(job))
	}
}

// NewRegenerateHandler returns an http.HandlerFunc for POST /api/v1/video-jobs/{jobID}/regenerate.
func NewRegenerateHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := decodeBody(w, r, &req, false); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Regenerate(r.Context(), id, req.Prompt)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Created(w, newJobView(job))
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody reads a JSON body into v. An empty body is an error only when required.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, required bool) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) && !required {
		return nil
	}
	return err
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var admErr *video.AdmissionError
	switch {
	case errors.As(err, &admErr):
		response.Error(w, http.StatusTooManyRequests, "TOO_MANY_ACTIVE_JOBS",
			fmt.Sprintf("Maximum %d active video jobs reached", admErr.Max),
			map[string]int{"active_count": admErr.Active, "max_active_jobs": admErr.Max})
	case errors.Is(err, video.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, video.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Video job not found", nil)
	case errors.Is(err, video.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, video.ErrArtifactMissing):
		response.Error(w, http.StatusNotFound, "VIDEO_MISSING", "Video file not found", nil)
	case errors.Is(err, video.ErrTransport):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", err.Error(), nil)
	default:
		slog.Error("video job request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
