package video

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/videojobs/internal/store"
	"github.com/kiranshivaraju/videojobs/pkg/models"
	"github.com/robfig/cron/v3"
)

const resumeBatch = 100

var resumableStatuses = []models.JobStatus{
	models.JobStatusQueued,
	models.JobStatusSending,
	models.JobStatusWaitingReply,
	models.JobStatusDownloading,
}

// ResumeResult counts what a Resume pass did.
type ResumeResult struct {
	Resumed    int
	RolledBack int
}

// Resume re-drives unfinished jobs last updated more than staleAfter ago and
// returns interrupted uploads to ready. staleAfter <= 0 selects every such
// job, which is what a fresh process wants at startup.
//
// A job that already recorded its request message id resumes waiting rather
// than sending the prompt again. Uploads still running in this process are
// left alone.
func (o *Orchestrator) Resume(ctx context.Context, staleAfter time.Duration) (ResumeResult, error) {
	var res ResumeResult
	var before time.Time
	if staleAfter > 0 {
		before = o.now().Add(-staleAfter)
	}

	jobs, err := o.listAll(ctx, resumableStatuses, before)
	if err != nil {
		return res, fmt.Errorf("listing unfinished jobs: %w", err)
	}
	for _, job := range jobs {
		o.jobLogger(job).Info("resuming video job", "status", job.Status)
		o.schedule(job.ID)
		res.Resumed++
	}

	uploads, err := o.listAll(ctx, []models.JobStatus{models.JobStatusUploading}, before)
	if err != nil {
		return res, fmt.Errorf("listing interrupted uploads: %w", err)
	}
	for _, job := range uploads {
		if _, running := o.uploads.Load(job.ID); running {
			continue
		}
		rolled, err := o.store.UpdateJob(ctx, job.ID,
			store.WhenStatus(models.JobStatusUploading),
			store.WithErrorMessage("upload interrupted, approve again to retry"),
			store.WithStatus(models.JobStatusReady))
		if err != nil {
			o.jobLogger(job).Warn("rolling back interrupted upload", "error", err)
			continue
		}
		o.publish(ctx, rolled)
		res.RolledBack++
	}
	return res, nil
}

// listAll collects every job in statuses updated before the cutoff, one page
// at a time. Pages are read before anything is scheduled.
func (o *Orchestrator) listAll(ctx context.Context, statuses []models.JobStatus, before time.Time) ([]*models.VideoJob, error) {
	var all []*models.VideoJob
	for offset := 0; ; offset += resumeBatch {
		page, err := o.store.ListJobs(ctx, store.JobFilter{
			Statuses:      statuses,
			UpdatedBefore: before,
			Limit:         resumeBatch,
			Offset:        offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < resumeBatch {
			return all, nil
		}
	}
}

// RecoveryScheduler runs Resume on a cron schedule.
type RecoveryScheduler struct {
	orch       *Orchestrator
	cron       *cron.Cron
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewRecoveryScheduler(orch *Orchestrator, staleAfter time.Duration, logger *slog.Logger) *RecoveryScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryScheduler{
		orch:       orch,
		cron:       cron.New(),
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start registers schedule (standard cron expression or descriptor such as "@every 5m")
// and starts the scheduler.
func (s *RecoveryScheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("recovery scheduler started", "schedule", schedule, "stale_after", s.staleAfter.String())
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *RecoveryScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RecoveryScheduler) run() {
	res, err := s.orch.Resume(context.Background(), s.staleAfter)
	if err != nil {
		s.logger.Error("recovery pass failed", "error", err)
		return
	}
	if res.Resumed > 0 || res.RolledBack > 0 {
		s.logger.Info("recovery pass", "resumed", res.Resumed, "rolled_back", res.RolledBack)
	}
}
