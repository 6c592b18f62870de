package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	tests := []struct {
		stage Stage
		tier  Tier
		want  string
	}{
		{StageExtraction, TierFree, "extraction_queue_free"},
		{StageTransform, TierBasic, "transform_queue_basic"},
		{StageTransform, TierPremium, "transform_queue_premium"},
		{StageEmbedding, TierEnterprise, "embedding_queue_enterprise"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.stage, tt.tier))
	}
}

func TestDLQName(t *testing.T) {
	assert.Equal(t, "transform_dlq_basic", DLQName(Name(StageTransform, TierBasic)))
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierBasic, ParseTier("basic"))
	assert.Equal(t, TierPremium, ParseTier("premium"))
	assert.Equal(t, TierEnterprise, ParseTier("enterprise"))
	assert.Equal(t, TierFree, ParseTier("free"))
	assert.Equal(t, TierFree, ParseTier(""))
	assert.Equal(t, TierFree, ParseTier("platinum"))
}

func TestAllQueueNames(t *testing.T) {
	names := AllQueueNames()
	assert.Len(t, names, 12)
	assert.Contains(t, names, "extraction_queue_enterprise")
	assert.Contains(t, names, "embedding_queue_free")
}

func TestExhausted(t *testing.T) {
	// Delivery count is incremented at claim time, so the third claimed
	// delivery that fails must dead-letter.
	assert.False(t, exhausted(1, 3))
	assert.False(t, exhausted(2, 3))
	assert.True(t, exhausted(3, 3))
	assert.True(t, exhausted(4, 3))
}

func TestRedeliveryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, redeliveryDelay(1))
	assert.Equal(t, 20*time.Second, redeliveryDelay(2))
	assert.Equal(t, 45*time.Second, redeliveryDelay(3))
	// Capped
	assert.Equal(t, 5*time.Minute, redeliveryDelay(100))
}
