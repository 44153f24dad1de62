// Package video drives video jobs from prompt to uploaded file.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/internal/media"
	"github.com/kiranshivaraju/videojobs/internal/store"
	"github.com/kiranshivaraju/videojobs/pkg/models"
)

const (
	statusTTL    = 30 * time.Minute
	maxListLimit = 100
)

// ReplyWaiter finds the bot's reply to an outbound message.
type ReplyWaiter interface {
	Wait(ctx context.Context, jobID uuid.UUID, since int64) (*models.ChatMessage, error)
	Peer() string
}

// StatusCache mirrors job statuses for cheap polling.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}

// SubmitParams describes a new job.
type SubmitParams struct {
	Prompt      string `validate:"required,max=4000"`
	ChannelID   string `validate:"omitempty,max=100"`
	ChannelName string `validate:"omitempty,max=200"`
	Title       string `validate:"omitempty,max=200"`
	IdeaText    string `validate:"omitempty,max=4000"`
}

// ListResult is a page of jobs plus the admission counters of its scope.
type ListResult struct {
	Jobs        []*models.VideoJob
	Limit       int
	ActiveCount int
	MaxActive   int
}

// Deps are the collaborators of an Orchestrator. Cache is optional.
type Deps struct {
	Store     store.Store
	Bridge    models.ChatBridge
	Waiter    ReplyWaiter
	Uploader  models.Uploader
	Media     *media.Dir
	Admission *Admission
	Runner    *Runner
	Cache     StatusCache
	Logger    *slog.Logger
	ListLimit int
}

// Orchestrator owns the job lifecycle.
type Orchestrator struct {
	store     store.Store
	bridge    models.ChatBridge
	waiter    ReplyWaiter
	uploader  models.Uploader
	media     *media.Dir
	admission *Admission
	runner    *Runner
	cache     StatusCache
	logger    *slog.Logger
	validate  *validator.Validate
	listLimit int
	now       func() time.Time

	// uploads holds ids of jobs whose Approve is running in this process.
	uploads sync.Map
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		bridge:    d.Bridge,
		waiter:    d.Waiter,
		uploader:  d.Uploader,
		media:     d.Media,
		admission: d.Admission,
		runner:    d.Runner,
		cache:     d.Cache,
		logger:    d.Logger,
		validate:  validator.New(),
		listLimit: d.ListLimit,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.runner == nil {
		o.runner = NewRunner(o.logger)
	}
	if o.admission == nil {
		o.admission = NewAdmission(d.Store, DefaultMaxActiveJobs)
	}
	if o.listLimit <= 0 {
		o.listLimit = 20
	}
	return o
}

// Submit validates p, applies admission for its scope, stores a queued job and
// starts driving it in the background. It returns without waiting.
func (o *Orchestrator) Submit(ctx context.Context, p SubmitParams) (*models.VideoJob, error) {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.ChannelID = strings.TrimSpace(p.ChannelID)
	p.ChannelName = strings.TrimSpace(p.ChannelName)
	p.Title = strings.TrimSpace(p.Title)
	p.IdeaText = strings.TrimSpace(p.IdeaText)
	if err := o.validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	active, ok, err := o.admission.Admit(ctx, p.ChannelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &AdmissionError{Scope: p.ChannelID, Active: active, Max: o.admission.Max()}
	}

	if p.ChannelID != "" && p.ChannelName == "" {
		if ch, err := o.store.GetChannel(ctx, p.ChannelID); err == nil {
			p.ChannelName = ch.Name
		}
	}

	now := o.now()
	job := &models.VideoJob{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Prompt:        p.Prompt,
		ChannelID:     optional(p.ChannelID),
		ChannelName:   optional(p.ChannelName),
		Title:         optional(p.Title),
		IdeaText:      optional(p.IdeaText),
		Status:        models.JobStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	o.publish(ctx, job)

	o.logger.Info("video job submitted",
		"job_id", job.ID, "correlation_id", job.CorrelationID, "channel_id", p.ChannelID, "active", active+1)

	o.schedule(job.ID)
	return job, nil
}

// Get returns the job with id.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	return o.store.GetJob(ctx, id)
}

// Status returns the job's status, preferring the cache.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	if o.cache != nil {
		if s, found, err := o.cache.GetJobStatus(ctx, id); err == nil && found {
			if status, err := models.ParseJobStatus(s); err == nil {
				return status, nil
			}
		}
	}
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	o.publish(ctx, job)
	return job.Status, nil
}

// List returns the newest jobs of channelID (all jobs when empty).
func (o *Orchestrator) List(ctx context.Context, channelID string, limit int) (*ListResult, error) {
	if limit <= 0 {
		limit = o.listLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	jobs, err := o.store.ListJobs(ctx, store.JobFilter{ChannelID: channelID, Limit: limit})
	if err != nil {
		return nil, err
	}
	active, err := o.admission.Active(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &ListResult{Jobs: jobs, Limit: limit, ActiveCount: active, MaxActive: o.admission.Max()}, nil
}

// Preview returns the job and the local path of its video for streaming.
func (o *Orchestrator) Preview(ctx context.Context, id uuid.UUID) (*models.VideoJob, string, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.JobStatusReady && job.Status != models.JobStatusUploaded {
		return nil, "", fmt.Errorf("%w: preview needs a ready or uploaded job, job is %s", ErrInvalidState, job.Status)
	}
	if job.LocalPath == nil || !media.Exists(*job.LocalPath) {
		return nil, "", fmt.Errorf("%w: job %s", ErrArtifactMissing, job.ID)
	}
	return job, *job.LocalPath, nil
}

// Approve uploads a ready job's video. title, if non-empty, replaces the
// job's title before the upload name is derived. On upload failure the job
// returns to ready and the error wraps ErrTransport.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID, title string) (*models.VideoJob, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusReady {
		return nil, fmt.Errorf("%w: approve needs a ready job, job is %s", ErrInvalidState, job.Status)
	}
	if job.LocalPath == nil {
		return nil, fmt.Errorf("%w: job %s has no local file", ErrArtifactMissing, job.ID)
	}
	if err := media.CheckFile(*job.LocalPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}

	opts := []store.JobUpdateOption{store.WhenStatus(models.JobStatusReady)}
	if t := strings.TrimSpace(title); t != "" {
		opts = append(opts, store.WithTitle(t))
	}
	opts = append(opts, store.WithStatus(models.JobStatusUploading))
	job, err = o.store.UpdateJob(ctx, id, opts...)
	if err != nil {
		return nil, o.stateError(err)
	}
	o.publish(ctx, job)
	log := o.jobLogger(job)

	o.uploads.Store(id, struct{}{})
	defer o.uploads.Delete(id)

	name := media.UploadName(deref(job.Title), job.ID, o.now())
	folder := o.folderFor(ctx, job)
	result, upErr := o.uploader.Upload(ctx, *job.LocalPath, name, folder)
	if upErr != nil {
		log.Error("upload failed, job back to ready", "error", upErr)
		rolled, err := o.store.UpdateJob(context.WithoutCancel(ctx), id,
			store.WhenStatus(models.JobStatusUploading),
			store.WithErrorMessage(fmt.Sprintf("upload failed: %v", upErr)),
			store.WithStatus(models.JobStatusReady))
		if err == nil {
			o.publish(ctx, rolled)
		} else {
			log.Error("rolling back upload", "error", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, upErr)
	}

	job, err = o.store.UpdateJob(ctx, id,
		store.WhenStatus(models.JobStatusUploading),
		store.WithUpload(result),
		store.ClearErrorMessage(),
		store.WithStatus(models.JobStatusUploaded))
	if err != nil {
		log.Error("recording upload", "drive_file_id", result.FileID, "error", err)
		return nil, o.stateError(err)
	}
	o.publish(ctx, job)
	log.Info("video job uploaded", "drive_file_id", result.FileID)
	return job, nil
}

// Reject discards a job from any status and deletes its local video.
// Rejecting a discarded job is a no-op.
func (o *Orchestrator) Reject(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	before, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := o.store.UpdateJob(ctx, id, store.ClearLocalPath(), store.WithStatus(models.JobStatusDiscarded))
	if err != nil {
		return nil, o.stateError(err)
	}
	o.publish(ctx, job)

	log := o.jobLogger(job)
	if before.LocalPath != nil {
		if err := media.Remove(*before.LocalPath); err != nil {
			log.Warn("removing rejected video", "path", *before.LocalPath, "error", err)
		}
	}
	if before.Status != models.JobStatusDiscarded {
		log.Info("video job rejected", "previous_status", before.Status)
	}
	return job, nil
}

// Regenerate submits a new job with the scope and context of id, using
// prompt when non-empty. The original job is left untouched.
func (o *Orchestrator) Regenerate(ctx context.Context, id uuid.UUID, prompt string) (*models.VideoJob, error) {
	prev, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = prev.Prompt
	}
	job, err := o.Submit(ctx, SubmitParams{
		Prompt:      prompt,
		ChannelID:   deref(prev.ChannelID),
		ChannelName: deref(prev.ChannelName),
		Title:       deref(prev.Title),
		IdeaText:    deref(prev.IdeaText),
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("video job regenerated", "job_id", job.ID, "previous_job_id", prev.ID)
	return job, nil
}

// Shutdown stops background progression. Interrupted jobs keep their status
// and are picked up by Resume.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.runner.Shutdown(ctx)
}

func (o *Orchestrator) schedule(id uuid.UUID) {
	o.runner.Go(id.String(), func(ctx context.Context) error {
		return o.drive(ctx, id)
	}, func(err error) {
		var pe *PanicError
		if errors.As(err, &pe) {
			o.logger.Error("panic while driving job", "job_id", id, "error", pe.Value, "stack", string(pe.Stack))
			o.failAfterPanic(id, pe)
			return
		}
		o.logger.Error("driving job", "job_id", id, "error", err)
	})
}

// drive advances the job one step at a time until it is ready, terminal or
// the runner shuts down.
func (o *Orchestrator) drive(ctx context.Context, id uuid.UUID) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := o.store.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("loading job: %w", err)
		}

		var step func(context.Context, *models.VideoJob) (*models.VideoJob, error)
		switch job.Status {
		case models.JobStatusQueued:
			step = o.begin
		case models.JobStatusSending:
			step = o.send
		case models.JobStatusWaitingReply:
			step = o.awaitReply
		case models.JobStatusDownloading:
			step = o.download
		default:
			return nil
		}

		next, err := step(ctx, job)
		if err != nil {
			return o.handleStepError(ctx, job, err)
		}
		o.publish(ctx, next)
	}
}

func (o *Orchestrator) begin(ctx context.Context, job *models.VideoJob) (*models.VideoJob, error) {
	return o.store.UpdateJob(ctx, job.ID,
		store.WhenStatus(models.JobStatusQueued),
		store.WithStatus(models.JobStatusSending))
}

// send transmits the prompt and records the outbound message id together with
// the move to waiting_reply. A job resumed with a recorded id is not re-sent.
func (o *Orchestrator) send(ctx context.Context, job *models.VideoJob) (*models.VideoJob, error) {
	var msgID int64
	if job.RequestMessageID != nil {
		msgID = *job.RequestMessageID
	} else {
		id, err := o.bridge.Send(context.WithoutCancel(ctx), o.waiter.Peer(), job.Prompt)
		if err != nil {
			return nil, fmt.Errorf("%w: sending prompt to @%s: %v", ErrTransport, strings.TrimPrefix(o.waiter.Peer(), "@"), err)
		}
		msgID = id
	}

	next, err := o.store.UpdateJob(context.WithoutCancel(ctx), job.ID,
		store.WhenStatus(models.JobStatusSending),
		store.WithRequestMessageID(msgID),
		store.WithStatus(models.JobStatusWaitingReply))
	if err != nil {
		return nil, err
	}
	o.jobLogger(next).Info("prompt sent", "request_message_id", msgID)
	return next, nil
}

func (o *Orchestrator) awaitReply(ctx context.Context, job *models.VideoJob) (*models.VideoJob, error) {
	if job.RequestMessageID == nil {
		return nil, fmt.Errorf("job is waiting for a reply but has no request message id")
	}
	msg, err := o.waiter.Wait(ctx, job.ID, *job.RequestMessageID)
	if err != nil {
		return nil, err
	}
	return o.store.UpdateJob(context.WithoutCancel(ctx), job.ID,
		store.WhenStatus(models.JobStatusWaitingReply),
		store.WithReplyMessageID(msg.ID),
		store.WithStatus(models.JobStatusDownloading))
}

// download fetches the reply's attachment into a fresh file and verifies it.
func (o *Orchestrator) download(ctx context.Context, job *models.VideoJob) (*models.VideoJob, error) {
	if job.ReplyMessageID == nil {
		return nil, fmt.Errorf("job is downloading but has no reply message id")
	}
	ctx = context.WithoutCancel(ctx)
	path := o.media.NewPath(deref(job.Title))

	n, err := o.bridge.FetchAttachment(ctx, o.waiter.Peer(), *job.ReplyMessageID, path)
	if err != nil {
		media.Remove(path)
		return nil, fmt.Errorf("%w: downloading video from message %d: %v", ErrTransport, *job.ReplyMessageID, err)
	}
	if err := media.Verify(path); err != nil {
		media.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}

	next, err := o.store.UpdateJob(ctx, job.ID,
		store.WhenStatus(models.JobStatusDownloading),
		store.WithLocalPath(path),
		store.ClearErrorMessage(),
		store.WithStatus(models.JobStatusReady))
	if err != nil {
		media.Remove(path)
		return nil, err
	}
	o.jobLogger(next).Info("video ready", "bytes", n, "reply_message_id", *job.ReplyMessageID)
	return next, nil
}

// handleStepError records a step failure on the job. A job that changed
// status under the step (e.g. was rejected) is left alone, as is a job whose
// step was interrupted by shutdown.
func (o *Orchestrator) handleStepError(ctx context.Context, job *models.VideoJob, stepErr error) error {
	log := o.jobLogger(job)
	if errors.Is(stepErr, store.ErrStatusConflict) {
		log.Info("job changed concurrently, stopping", "status", job.Status)
		return nil
	}
	if ctx.Err() != nil && errors.Is(stepErr, ctx.Err()) {
		log.Info("job interrupted by shutdown", "status", job.Status)
		return nil
	}
	return o.markFailed(context.WithoutCancel(ctx), job, stepErr.Error())
}

func (o *Orchestrator) markFailed(ctx context.Context, job *models.VideoJob, reason string) error {
	log := o.jobLogger(job)
	if !models.CanTransition(job.Status, models.JobStatusError) {
		log.Error("job failed in a status that cannot fail", "status", job.Status, "error", reason)
		return fmt.Errorf("job %s failed while %s: %s", job.ID, job.Status, reason)
	}
	failed, err := o.store.UpdateJob(ctx, job.ID,
		store.WhenStatus(job.Status),
		store.WithErrorMessage(reason),
		store.WithStatus(models.JobStatusError))
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	o.publish(ctx, failed)
	log.Warn("video job failed", "failed_status", job.Status, "error", reason)
	return nil
}

func (o *Orchestrator) failAfterPanic(id uuid.UUID, pe *PanicError) {
	ctx := context.Background()
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return
	}
	_ = o.markFailed(ctx, job, pe.Error())
}

func (o *Orchestrator) folderFor(ctx context.Context, job *models.VideoJob) string {
	scope := job.Scope()
	if scope == "" {
		return ""
	}
	ch, err := o.store.GetChannel(ctx, scope)
	if err != nil || ch.DriveFolderID == nil {
		return ""
	}
	return *ch.DriveFolderID
}

func (o *Orchestrator) stateError(err error) error {
	if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}

func (o *Orchestrator) publish(ctx context.Context, job *models.VideoJob) {
	if o.cache == nil || job == nil {
		return
	}
	_ = o.cache.SetJobStatus(context.WithoutCancel(ctx), job.ID, string(job.Status), statusTTL)
}

func (o *Orchestrator) jobLogger(job *models.VideoJob) *slog.Logger {
	return o.logger.With("job_id", job.ID, "correlation_id", job.CorrelationID)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := toSnake(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
