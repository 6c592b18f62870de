package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsFatal(Fatal(base)))
	assert.False(t, IsTransient(Fatal(base)))

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsFatal(Transient(base)))

	// Unclassified errors retry
	assert.True(t, IsTransient(base))
	assert.False(t, IsFatal(base))

	// Classification survives wrapping
	wrapped := fmt.Errorf("step failed: %w", Fatal(base))
	assert.True(t, IsFatal(wrapped))

	assert.False(t, IsTransient(nil))
	assert.Nil(t, Transient(nil))
	assert.Nil(t, Fatal(nil))
}

func TestEmbeddingMessage_CompletionMarker(t *testing.T) {
	extID := "PROJ-1"

	marker := &EmbeddingMessage{LastJobItem: true}
	assert.True(t, marker.IsCompletionMarker())

	record := &EmbeddingMessage{ExternalID: &extID, LastJobItem: true}
	assert.False(t, record.IsCompletionMarker(), "final record still carries an external id")

	mid := &EmbeddingMessage{ExternalID: &extID}
	assert.False(t, mid.IsCompletionMarker())

	carrier := &EmbeddingMessage{FirstItem: true, LastItem: true}
	assert.False(t, carrier.IsCompletionMarker(), "flag carrier is not the marker")
}

func TestExtractionMessage_JSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	msg := ExtractionMessage{
		Envelope: Envelope{
			TenantID: uuid.New(),
			JobID:    uuid.New(),
			JobName:  "jira_sync",
			Provider: ProviderJira,
		},
		Step:            StepJiraIssues,
		Cursor:          json.RawMessage(`{"start_at":100,"project_index":2}`),
		NewLastSyncDate: &now,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ExtractionMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.Step, decoded.Step)
	assert.Equal(t, msg.TenantID, decoded.TenantID)
	assert.JSONEq(t, string(msg.Cursor), string(decoded.Cursor))
	assert.True(t, now.Equal(*decoded.NewLastSyncDate))
}

func TestJiraStepOrder(t *testing.T) {
	require.Len(t, JiraSteps, 8)
	assert.Equal(t, StepJiraProjects, JiraSteps[0])
	assert.Equal(t, StepJiraChangelogs, JiraSteps[len(JiraSteps)-2])
	assert.Equal(t, StepJiraDevStatus, JiraSteps[len(JiraSteps)-1])
}
