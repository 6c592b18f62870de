package transform

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/extraction"
	"github.com/relaydev/syncd/domain/pipeline"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
)

type fakeRaw struct {
	acquired bool
	row      *extraction.RawData
	runDone  bool

	completed []uuid.UUID
	failed    map[uuid.UUID]string
	released  []uuid.UUID
	getCalls  int
}

func (f *fakeRaw) Acquire(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.acquired, nil
}

func (f *fakeRaw) GetByID(ctx context.Context, id uuid.UUID) (*extraction.RawData, error) {
	f.getCalls++
	return f.row, nil
}

func (f *fakeRaw) Release(ctx context.Context, id uuid.UUID, errMsg string) error {
	f.released = append(f.released, id)
	return nil
}

func (f *fakeRaw) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeRaw) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if f.failed == nil {
		f.failed = make(map[uuid.UUID]string)
	}
	f.failed[id] = errMsg
	return nil
}

func (f *fakeRaw) RunComplete(ctx context.Context, jobID uuid.UUID, since *time.Time) (bool, error) {
	return f.runDone, nil
}

type fakeStore struct {
	upserts int
	err     error
}

func (f *fakeStore) count(n int) error {
	f.upserts += n
	if n > 0 && f.err != nil {
		return f.err
	}
	return nil
}

func (f *fakeStore) UpsertProjects(ctx context.Context, rows []*canonical.Project) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertWITs(ctx context.Context, rows []*canonical.WIT) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertWorkItems(ctx context.Context, rows []*canonical.WorkItem) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertStatuses(ctx context.Context, rows []*canonical.Status) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertWorkflows(ctx context.Context, rows []*canonical.Workflow) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertStatusMappings(ctx context.Context, rows []*canonical.StatusMapping) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertChangelogs(ctx context.Context, rows []*canonical.Changelog) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertCustomFields(ctx context.Context, rows []*canonical.CustomField) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertWITHierarchies(ctx context.Context, rows []*canonical.WITHierarchy) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertWITMappings(ctx context.Context, rows []*canonical.WITMapping) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertRepositories(ctx context.Context, rows []*canonical.Repository) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertPRs(ctx context.Context, rows []*canonical.PR) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertPRCommits(ctx context.Context, rows []*canonical.PRCommit) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertPRReviews(ctx context.Context, rows []*canonical.PRReview) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertPRComments(ctx context.Context, rows []*canonical.PRComment) error {
	return f.count(len(rows))
}
func (f *fakeStore) UpsertWITPRLinks(ctx context.Context, rows []*canonical.WITPRLink) error {
	return f.count(len(rows))
}

type fakePublisher struct {
	published []*pipeline.EmbeddingMessage
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, payload any) error {
	if f.err != nil {
		return f.err
	}
	if em, ok := payload.(*pipeline.EmbeddingMessage); ok {
		f.published = append(f.published, em)
	}
	return nil
}

type fakeTiers struct{}

func (fakeTiers) QueueFor(ctx context.Context, stage queue.Stage, tenantID uuid.UUID) (string, error) {
	return queue.Name(stage, queue.TierBasic), nil
}

func newTestWorker(raw *fakeRaw, store *fakeStore, pub *fakePublisher) *Worker {
	cfg := &config.Config{}
	cfg.Queue.MaxDeliveries = 3
	return &Worker{
		queue: pub,
		raw:   raw,
		store: store,
		tiers: fakeTiers{},
		cfg:   cfg,
		log:   slog.Default(),
	}
}

func transformQueueMessage(t *testing.T, tm *pipeline.TransformMessage, deliveryCount int) *queue.Message {
	t.Helper()
	data, err := json.Marshal(tm)
	require.NoError(t, err)
	return &queue.Message{Payload: data, DeliveryCount: deliveryCount}
}

func statusesMessage(payload string, raw *fakeRaw) *pipeline.TransformMessage {
	tm := &pipeline.TransformMessage{
		Envelope: pipeline.Envelope{
			TenantID:      uuid.New(),
			IntegrationID: uuid.New(),
			JobID:         uuid.New(),
			JobName:       "jira-sync",
		},
		RawID:    uuid.New(),
		DataType: pipeline.StepJiraStatuses,
	}
	raw.row = &extraction.RawData{ID: tm.RawID, Payload: []byte(payload)}
	return tm
}

func TestHandleSkipsAlreadyProcessedRow(t *testing.T) {
	raw := &fakeRaw{acquired: false}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := newTestWorker(raw, store, pub)

	tm := statusesMessage(`[{"id":"1","name":"To Do"}]`, raw)
	err := w.handle(context.Background(), transformQueueMessage(t, tm, 2))
	require.NoError(t, err)

	assert.Zero(t, raw.getCalls, "processed row is not re-read")
	assert.Zero(t, store.upserts)
	assert.Empty(t, pub.published)
}

func TestHandleRedeliveryRetriesMarker(t *testing.T) {
	// A redelivery after the marker publish failed: the row is already
	// taken, but the run is settled, so the marker goes out now.
	raw := &fakeRaw{acquired: false, runDone: true}
	pub := &fakePublisher{}
	w := newTestWorker(raw, &fakeStore{}, pub)

	tm := statusesMessage(`[]`, raw)
	err := w.handle(context.Background(), transformQueueMessage(t, tm, 2))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	marker := pub.published[0]
	assert.True(t, marker.IsCompletionMarker())
	assert.Equal(t, tm.JobID, marker.JobID)
}

func TestHandleHoldsMarkerWhileRowsUnsettled(t *testing.T) {
	raw := &fakeRaw{acquired: true, runDone: false}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := newTestWorker(raw, store, pub)

	tm := statusesMessage(`[{"id":"1","name":"To Do"}]`, raw)
	tm.LastItem = true
	tm.LastJobItem = true

	err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))
	require.NoError(t, err)
	require.Len(t, raw.completed, 1)

	// The run's final page settled, but another page is still in flight:
	// no marker until every row is settled.
	require.Len(t, pub.published, 1)
	assert.False(t, pub.published[0].IsCompletionMarker())
	assert.Equal(t, pipeline.StepJiraStatuses, pub.published[0].Step)
	assert.True(t, pub.published[0].LastItem)
}

func TestHandlePublishesMarkerWhenRunSettled(t *testing.T) {
	raw := &fakeRaw{acquired: true, runDone: true}
	pub := &fakePublisher{}
	w := newTestWorker(raw, &fakeStore{}, pub)

	tm := statusesMessage(`[{"id":"1","name":"To Do"}]`, raw)
	err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))
	require.NoError(t, err)

	require.Len(t, pub.published, 2)
	assert.False(t, pub.published[0].IsCompletionMarker())
	marker := pub.published[1]
	assert.True(t, marker.IsCompletionMarker())
	assert.Nil(t, marker.ExternalID)
	assert.True(t, marker.LastItem)
}

func TestHandleMappingErrorKillsRowOnly(t *testing.T) {
	raw := &fakeRaw{acquired: true}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := newTestWorker(raw, store, pub)

	tm := statusesMessage(`{not json`, raw)
	err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))

	// The message dies, the row is failed, and nothing else happens: the
	// run keeps going without this page.
	require.ErrorIs(t, err, queue.ErrPermanent)
	assert.Contains(t, raw.failed[tm.RawID], "parse statuses")
	assert.Zero(t, store.upserts)
	assert.Empty(t, pub.published)
}

func TestHandleEmptyPagePublishesFlagCarrier(t *testing.T) {
	raw := &fakeRaw{acquired: true}
	pub := &fakePublisher{}
	w := newTestWorker(raw, &fakeStore{}, pub)

	tm := statusesMessage(`[]`, raw)
	tm.FirstItem = true
	tm.LastItem = true

	err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	carrier := pub.published[0]
	assert.Nil(t, carrier.ExternalID)
	assert.False(t, carrier.IsCompletionMarker())
	assert.Equal(t, pipeline.StepJiraStatuses, carrier.Step)
	assert.True(t, carrier.FirstItem)
	assert.True(t, carrier.LastItem)
}

func TestHandleMidStepEmptyPagePublishesNothing(t *testing.T) {
	raw := &fakeRaw{acquired: true}
	pub := &fakePublisher{}
	w := newTestWorker(raw, &fakeStore{}, pub)

	tm := statusesMessage(`[]`, raw)
	err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
	assert.Len(t, raw.completed, 1)
}

func TestRetryOrFail(t *testing.T) {
	cause := errors.New("deadlock detected")

	t.Run("releases before final delivery", func(t *testing.T) {
		raw := &fakeRaw{acquired: true}
		store := &fakeStore{err: cause}
		w := newTestWorker(raw, store, &fakePublisher{})

		tm := statusesMessage(`[{"id":"1","name":"To Do"}]`, raw)
		err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))
		require.ErrorIs(t, err, cause)
		assert.Equal(t, []uuid.UUID{tm.RawID}, raw.released)
		assert.Empty(t, raw.failed)
	})

	t.Run("fails the row on the final delivery", func(t *testing.T) {
		raw := &fakeRaw{acquired: true}
		store := &fakeStore{err: cause}
		w := newTestWorker(raw, store, &fakePublisher{})

		tm := statusesMessage(`[{"id":"1","name":"To Do"}]`, raw)
		err := w.handle(context.Background(), transformQueueMessage(t, tm, 3))
		require.ErrorIs(t, err, cause)
		assert.Empty(t, raw.released)
		assert.Contains(t, raw.failed[tm.RawID], "deadlock")
	})
}

func TestEmbeddingMessageFlags(t *testing.T) {
	raw := &fakeRaw{acquired: true}
	pub := &fakePublisher{}
	w := newTestWorker(raw, &fakeStore{}, pub)

	tm := statusesMessage(`[{"id":"1","name":"To Do"},{"id":"2","name":"Done"}]`, raw)
	tm.FirstItem = true
	tm.LastItem = true

	err := w.handle(context.Background(), transformQueueMessage(t, tm, 1))
	require.NoError(t, err)
	require.Len(t, pub.published, 2)

	assert.True(t, pub.published[0].FirstItem)
	assert.False(t, pub.published[0].LastItem)
	assert.False(t, pub.published[1].FirstItem)
	assert.True(t, pub.published[1].LastItem)
	assert.Equal(t, "1", *pub.published[0].ExternalID)
	assert.Equal(t, "2", *pub.published[1].ExternalID)
}
