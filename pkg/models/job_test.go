package models_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/videojobs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCanTransition_SuccessPath(t *testing.T) {
	path := []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusSending,
		models.JobStatusWaitingReply,
		models.JobStatusDownloading,
		models.JobStatusReady,
		models.JobStatusUploading,
		models.JobStatusUploaded,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, models.CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransition_NoSkipping(t *testing.T) {
	assert.False(t, models.CanTransition(models.JobStatusQueued, models.JobStatusReady))
	assert.False(t, models.CanTransition(models.JobStatusQueued, models.JobStatusWaitingReply))
	assert.False(t, models.CanTransition(models.JobStatusSending, models.JobStatusDownloading))
	assert.False(t, models.CanTransition(models.JobStatusReady, models.JobStatusUploaded))
}

func TestCanTransition_ErrorEdges(t *testing.T) {
	assert.True(t, models.CanTransition(models.JobStatusSending, models.JobStatusError))
	assert.True(t, models.CanTransition(models.JobStatusWaitingReply, models.JobStatusError))
	assert.True(t, models.CanTransition(models.JobStatusDownloading, models.JobStatusError))

	assert.False(t, models.CanTransition(models.JobStatusReady, models.JobStatusError))
	assert.False(t, models.CanTransition(models.JobStatusUploading, models.JobStatusError))
}

func TestCanTransition_UploadRollback(t *testing.T) {
	assert.True(t, models.CanTransition(models.JobStatusUploading, models.JobStatusReady))
}

func TestCanTransition_DiscardFromAnyState(t *testing.T) {
	for _, s := range []models.JobStatus{
		models.JobStatusQueued, models.JobStatusSending, models.JobStatusWaitingReply,
		models.JobStatusDownloading, models.JobStatusReady, models.JobStatusUploading,
		models.JobStatusUploaded, models.JobStatusError,
	} {
		assert.True(t, models.CanTransition(s, models.JobStatusDiscarded), "%s -> discarded", s)
	}
	assert.False(t, models.CanTransition(models.JobStatusDiscarded, models.JobStatusDiscarded))
	assert.False(t, models.CanTransition(models.JobStatusDiscarded, models.JobStatusQueued))
}

func TestNonTerminalStatuses(t *testing.T) {
	got := models.NonTerminalStatuses()
	assert.ElementsMatch(t, []models.JobStatus{
		models.JobStatusQueued, models.JobStatusSending, models.JobStatusWaitingReply,
		models.JobStatusDownloading, models.JobStatusReady, models.JobStatusUploading,
	}, got)
}

func TestParseJobStatus(t *testing.T) {
	s, err := models.ParseJobStatus("waiting_reply")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaitingReply, s)

	_, err = models.ParseJobStatus("generating")
	assert.Error(t, err)
}

func TestValidate_LocalPathInvariant(t *testing.T) {
	job := &models.VideoJob{ID: uuid.New(), Prompt: "a cat", Status: models.JobStatusReady}
	assert.Error(t, job.Validate(), "ready without path")

	job.LocalPath = strPtr("/tmp/a.mp4")
	assert.NoError(t, job.Validate())

	job.Status = models.JobStatusDiscarded
	assert.Error(t, job.Validate(), "discarded with path")

	job.LocalPath = nil
	assert.NoError(t, job.Validate())
}

func TestValidate_RemoteReferenceInvariant(t *testing.T) {
	job := &models.VideoJob{
		ID:        uuid.New(),
		Prompt:    "a cat",
		Status:    models.JobStatusUploaded,
		LocalPath: strPtr("/tmp/a.mp4"),
	}
	assert.Error(t, job.Validate(), "uploaded without reference")

	job.DriveFileID = strPtr("drive-1")
	assert.NoError(t, job.Validate())

	job.Status = models.JobStatusReady
	assert.Error(t, job.Validate(), "ready with reference")
}

func TestClone_IsDeep(t *testing.T) {
	job := &models.VideoJob{ID: uuid.New(), Prompt: "p", Title: strPtr("t")}
	c := job.Clone()
	*c.Title = "changed"
	assert.Equal(t, "t", *job.Title)
}
