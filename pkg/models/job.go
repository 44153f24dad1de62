package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a video job.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusSending      JobStatus = "sending"
	JobStatusWaitingReply JobStatus = "waiting_reply"
	JobStatusDownloading  JobStatus = "downloading"
	JobStatusReady        JobStatus = "ready"
	JobStatusUploading    JobStatus = "uploading"
	JobStatusUploaded     JobStatus = "uploaded"
	JobStatusDiscarded    JobStatus = "discarded"
	JobStatusError        JobStatus = "error"
)

var allStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusSending,
	JobStatusWaitingReply,
	JobStatusDownloading,
	JobStatusReady,
	JobStatusUploading,
	JobStatusUploaded,
	JobStatusDiscarded,
	JobStatusError,
}

// jobTransitions lists the only edges a job may follow. Rejection may
// discard a job from any state, so discarded is appended for every source below.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:       {JobStatusSending},
	JobStatusSending:      {JobStatusWaitingReply, JobStatusError},
	JobStatusWaitingReply: {JobStatusDownloading, JobStatusError},
	JobStatusDownloading:  {JobStatusReady, JobStatusError},
	JobStatusReady:        {JobStatusUploading},
	JobStatusUploading:    {JobStatusUploaded, JobStatusReady},
}

func init() {
	for _, s := range allStatuses {
		if s == JobStatusDiscarded {
			continue
		}
		jobTransitions[s] = append(jobTransitions[s], JobStatusDiscarded)
	}
}

// ParseJobStatus returns the JobStatus named by s.
func ParseJobStatus(s string) (JobStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	_, err := ParseJobStatus(string(s))
	return err == nil
}

// Terminal reports whether s ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusUploaded || s == JobStatusDiscarded || s == JobStatusError
}

// HasArtifact reports whether a job in status s must carry a local artifact.
func (s JobStatus) HasArtifact() bool {
	return s == JobStatusReady || s == JobStatusUploading || s == JobStatusUploaded
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NonTerminalStatuses returns every status counted against the admission ceiling.
func NonTerminalStatuses() []JobStatus {
	var out []JobStatus
	for _, s := range allStatuses {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// VideoJob is one end-to-end attempt to turn a prompt into an uploaded video.
// Clients poll GET /api/v1/video-jobs/{id} until the job reaches ready, then
// approve or reject it.
type VideoJob struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	CorrelationID uuid.UUID `db:"correlation_id" json:"correlation_id"`
	Prompt        string    `db:"prompt"         json:"prompt"`
	ChannelID     *string   `db:"channel_id"     json:"channel_id,omitempty"`
	ChannelName   *string   `db:"channel_name"   json:"channel_name,omitempty"`
	Title         *string   `db:"title"          json:"title,omitempty"`
	IdeaText      *string   `db:"idea_text"      json:"idea_text,omitempty"`
	Status        JobStatus `db:"status"         json:"status"`

	LocalPath        *string `db:"local_path"         json:"-"`
	RequestMessageID *int64  `db:"request_message_id" json:"request_message_id,omitempty"`
	ReplyMessageID   *int64  `db:"reply_message_id"   json:"reply_message_id,omitempty"`

	DriveFileID    *string `db:"drive_file_id"    json:"drive_file_id,omitempty"`
	WebViewLink    *string `db:"web_view_link"    json:"web_view_link,omitempty"`
	WebContentLink *string `db:"web_content_link" json:"web_content_link,omitempty"`

	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// Scope returns the admission scope of the job; the empty string is the global scope.
func (j *VideoJob) Scope() string {
	if j.ChannelID == nil {
		return ""
	}
	return *j.ChannelID
}

// Validate checks the field invariants that must hold in every status.
func (j *VideoJob) Validate() error {
	if !j.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	if j.Prompt == "" {
		return fmt.Errorf("job %s: prompt is empty", j.ID)
	}
	hasPath := j.LocalPath != nil && *j.LocalPath != ""
	if j.Status.HasArtifact() && !hasPath {
		return fmt.Errorf("job %s: status %s requires a local path", j.ID, j.Status)
	}
	if !j.Status.HasArtifact() && hasPath {
		return fmt.Errorf("job %s: status %s must not carry a local path", j.ID, j.Status)
	}
	hasRemote := j.DriveFileID != nil && *j.DriveFileID != ""
	if j.Status == JobStatusUploaded && !hasRemote {
		return fmt.Errorf("job %s: uploaded job has no remote reference", j.ID)
	}
	// A discarded job may keep the reference of an earlier upload.
	if hasRemote && j.Status != JobStatusUploaded && j.Status != JobStatusDiscarded {
		return fmt.Errorf("job %s: status %s must not carry a remote reference", j.ID, j.Status)
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *VideoJob) Clone() *VideoJob {
	c := *j
	c.ChannelID = cloneString(j.ChannelID)
	c.ChannelName = cloneString(j.ChannelName)
	c.Title = cloneString(j.Title)
	c.IdeaText = cloneString(j.IdeaText)
	c.LocalPath = cloneString(j.LocalPath)
	c.RequestMessageID = cloneInt64(j.RequestMessageID)
	c.ReplyMessageID = cloneInt64(j.ReplyMessageID)
	c.DriveFileID = cloneString(j.DriveFileID)
	c.WebViewLink = cloneString(j.WebViewLink)
	c.WebContentLink = cloneString(j.WebContentLink)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
