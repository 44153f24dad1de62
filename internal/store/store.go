package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStatusConflict is returned when a guarded update finds the job in a
// status other than the expected ones.
var ErrStatusConflict = errors.New("job status changed concurrently")

// ErrInvalidTransition is returned when an update would break the job state
// machine or the job's field invariants.
var ErrInvalidTransition = errors.New("invalid job update")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Store is the data access interface. All database operations go through here.
//
// Implementations must give read-after-write visibility within a process and
// apply UpdateJob atomically with respect to other UpdateJob calls on the same id.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.VideoJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.VideoJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.VideoJob, error)
	CountNonTerminalJobs(ctx context.Context, channelID string) (int, error)

	GetChannel(ctx context.Context, id string) (*models.Channel, error)
}

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	ChannelID     string
	Statuses      []models.JobStatus
	UpdatedBefore time.Time
	Limit         int
	// Offset skips that many jobs of the newest-first order.
	Offset int
}

func (f JobFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > maxListLimit {
		return maxListLimit
	}
	return f.Limit
}

type jobUpdateParams struct {
	status    *models.JobStatus
	expect    []models.JobStatus
	mutations []func(*models.VideoJob) error
}

type JobUpdateOption func(*jobUpdateParams)

// WithStatus moves the job to status, subject to the state machine.
func WithStatus(status models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.status = &status
	}
}

// WhenStatus makes the update conditional on the job currently being in one of statuses.
func WhenStatus(statuses ...models.JobStatus) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.expect = append(p.expect, statuses...)
	}
}

func WithTitle(title string) JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.Title = &title
		return nil
	})
}

func WithLocalPath(path string) JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.LocalPath = &path
		return nil
	})
}

func ClearLocalPath() JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.LocalPath = nil
		return nil
	})
}

// WithRequestMessageID records the correlation marker. A marker is written once;
// a different value for a job that already has one is rejected.
func WithRequestMessageID(id int64) JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		if j.RequestMessageID != nil && *j.RequestMessageID != id {
			return fmt.Errorf("%w: request message id already set to %d", ErrInvalidTransition, *j.RequestMessageID)
		}
		j.RequestMessageID = &id
		return nil
	})
}

func WithReplyMessageID(id int64) JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.ReplyMessageID = &id
		return nil
	})
}

func WithUpload(res models.UploadResult) JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.DriveFileID = &res.FileID
		j.WebViewLink = optional(res.WebViewLink)
		j.WebContentLink = optional(res.WebContentLink)
		return nil
	})
}

func WithErrorMessage(msg string) JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.ErrorMessage = &msg
		return nil
	})
}

func ClearErrorMessage() JobUpdateOption {
	return mutate(func(j *models.VideoJob) error {
		j.ErrorMessage = nil
		return nil
	})
}

func mutate(fn func(*models.VideoJob) error) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.mutations = append(p.mutations, fn)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// applyJobUpdate mutates job in place and reports whether anything changed.
// It is shared by every Store implementation so that guards, transitions and
// invariants behave identically. An update that changes nothing keeps UpdatedAt.
func applyJobUpdate(job *models.VideoJob, now time.Time, opts []JobUpdateOption) (bool, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	if len(params.expect) > 0 && !slices.Contains(params.expect, job.Status) {
		return false, fmt.Errorf("%w: job %s is %s, expected %v", ErrStatusConflict, job.ID, job.Status, params.expect)
	}

	before := job.Clone()
	if params.status != nil && *params.status != job.Status {
		if !models.CanTransition(job.Status, *params.status) {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *params.status)
		}
		job.Status = *params.status
	}

	for _, m := range params.mutations {
		if err := m(job); err != nil {
			return false, err
		}
	}

	if err := job.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if reflect.DeepEqual(before, job) {
		return false, nil
	}
	job.UpdatedAt = now
	return true, nil
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
