package etljobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/domain/integrations"
	"github.com/relaydev/syncd/domain/pipeline"
)

func TestBuildExtractionMessage_FreshRun(t *testing.T) {
	d := &Dispatcher{}
	lastSync := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	job := &ETLJob{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		JobName:  "jira_sync",
	}
	integration := &integrations.Integration{
		ID:         uuid.New(),
		Provider:   pipeline.ProviderJira,
		LastSyncAt: &lastSync,
	}
	job.IntegrationID = integration.ID

	before := time.Now().UTC()
	msg, err := d.buildExtractionMessage(job, integration)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepJiraProjects, msg.Step)
	assert.Empty(t, msg.Cursor)
	assert.Equal(t, job.TenantID, msg.TenantID)
	assert.Equal(t, job.ID, msg.JobID)
	require.NotNil(t, msg.OldLastSyncDate)
	assert.True(t, lastSync.Equal(*msg.OldLastSyncDate), "fresh run syncs from the integration watermark")
	require.NotNil(t, msg.NewLastSyncDate)
	assert.False(t, msg.NewLastSyncDate.Before(before), "run start stamped at dispatch time")
}

func TestBuildExtractionMessage_ResumesFromCheckpoint(t *testing.T) {
	d := &Dispatcher{}
	oldSync := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newSync := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	cp := Checkpoint{
		Step:            pipeline.StepJiraIssues,
		Cursor:          json.RawMessage(`{"start_at":200,"project_index":1}`),
		OldLastSyncDate: &oldSync,
		NewLastSyncDate: &newSync,
	}
	data, err := json.Marshal(cp)
	require.NoError(t, err)

	job := &ETLJob{ID: uuid.New(), CheckpointData: data}
	integration := &integrations.Integration{Provider: pipeline.ProviderJira}

	msg, err := d.buildExtractionMessage(job, integration)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepJiraIssues, msg.Step)
	assert.JSONEq(t, `{"start_at":200,"project_index":1}`, string(msg.Cursor))
	assert.True(t, oldSync.Equal(*msg.OldLastSyncDate))
	assert.True(t, newSync.Equal(*msg.NewLastSyncDate), "resumed run keeps the original run-start stamp")
}

func TestBuildExtractionMessage_BrokenCheckpoint(t *testing.T) {
	d := &Dispatcher{}
	job := &ETLJob{ID: uuid.New(), CheckpointData: json.RawMessage(`{broken`)}

	_, err := d.buildExtractionMessage(job, &integrations.Integration{Provider: pipeline.ProviderJira})
	assert.Error(t, err)
}
