package queue

import (
	"fmt"
	"strings"
)

// Stage identifies a pipeline stage with its own set of queues.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageTransform  Stage = "transform"
	StageEmbedding  Stage = "embedding"
)

// Tier identifies a tenant service tier. Each stage has one queue per tier
// so paid tenants are never starved by free-tier backlogs.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists all tiers in consumer start order.
var Tiers = []Tier{TierEnterprise, TierPremium, TierBasic, TierFree}

// Stages lists all pipeline stages.
var Stages = []Stage{StageExtraction, StageTransform, StageEmbedding}

// Name composes the queue name for a stage and tier, e.g.
// "transform_queue_basic".
func Name(stage Stage, tier Tier) string {
	return fmt.Sprintf("%s_queue_%s", stage, tier)
}

// DLQName returns the dead-letter queue name for a queue, e.g.
// "transform_dlq_basic" for "transform_queue_basic".
func DLQName(queueName string) string {
	if strings.Contains(queueName, "_queue_") {
		return strings.Replace(queueName, "_queue_", "_dlq_", 1)
	}
	return queueName + "_dlq"
}

// ParseTier normalises a stored tier value, defaulting unknown values to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierBasic:
		return TierBasic
	case TierPremium:
		return TierPremium
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// AllQueueNames returns every stage/tier queue, used for stats collection.
func AllQueueNames() []string {
	names := make([]string, 0, len(Stages)*len(Tiers))
	for _, stage := range Stages {
		for _, tier := range Tiers {
			names = append(names, Name(stage, tier))
		}
	}
	return names
}
