package status

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONShape(t *testing.T) {
	ev := NewEvent(EventFailed, uuid.New(), uuid.New(), "jira_sync")
	ev.Step = "jira_issues"

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "status", decoded["type"])
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, "jira_issues", decoded["step"])
}

func TestBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewBroadcaster(slog.Default())
	tenantID := uuid.New()
	jobID := uuid.New()

	id, ch := b.Subscribe(tenantID, jobID)
	defer b.Unsubscribe(tenantID, jobID, id)

	b.Publish(NewEvent(EventRunning, tenantID, jobID, "jira_sync"))

	select {
	case ev := <-ch:
		assert.Equal(t, TypeStatus, ev.Type)
		assert.Equal(t, EventRunning, ev.Status)
		assert.Equal(t, "jira_sync", ev.Job)
		assert.NotEmpty(t, ev.Timestamp)
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestBroadcaster_IsolatesJobs(t *testing.T) {
	b := NewBroadcaster(slog.Default())
	tenantID := uuid.New()
	jobA := uuid.New()
	jobB := uuid.New()

	idA, chA := b.Subscribe(tenantID, jobA)
	defer b.Unsubscribe(tenantID, jobA, idA)

	b.Publish(NewEvent(EventFinished, tenantID, jobB, "github_sync"))

	select {
	case <-chA:
		t.Fatal("subscriber for job A received job B's event")
	default:
	}
}

func TestBroadcaster_DropsWhenBufferFull(t *testing.T) {
	b := NewBroadcaster(slog.Default())
	tenantID := uuid.New()
	jobID := uuid.New()

	id, ch := b.Subscribe(tenantID, jobID)
	defer b.Unsubscribe(tenantID, jobID, id)

	// Publish must never block, even against a subscriber that is not
	// draining.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(NewEvent(EventRunning, tenantID, jobID, "jira_sync"))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(slog.Default())
	tenantID := uuid.New()
	jobID := uuid.New()

	id, ch := b.Subscribe(tenantID, jobID)
	require.Equal(t, 1, b.SubscriberCount(tenantID, jobID))

	b.Unsubscribe(tenantID, jobID, id)
	assert.Equal(t, 0, b.SubscriberCount(tenantID, jobID))

	_, open := <-ch
	assert.False(t, open, "channel closes on unsubscribe")
}
