package etljobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/domain/pipeline"
)

func TestIsDue(t *testing.T) {
	now := time.Now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	tests := []struct {
		name string
		job  ETLJob
		want bool
	}{
		{
			name: "never run",
			job:  ETLJob{Active: true, Status: StatusReady, ScheduleInterval: time.Hour},
			want: true,
		},
		{
			name: "inactive is never due",
			job:  ETLJob{Active: false, Status: StatusReady, ScheduleInterval: time.Hour},
			want: false,
		},
		{
			name: "running is never due",
			job:  ETLJob{Active: true, Status: StatusRunning, ScheduleInterval: time.Hour, LastRunStartedAt: &hourAgo},
			want: false,
		},
		{
			name: "finished and interval elapsed",
			job:  ETLJob{Active: true, Status: StatusFinished, ScheduleInterval: 30 * time.Minute, LastRunStartedAt: &hourAgo},
			want: true,
		},
		{
			name: "finished and interval not elapsed",
			job:  ETLJob{Active: true, Status: StatusFinished, ScheduleInterval: time.Hour, LastRunStartedAt: &minuteAgo},
			want: false,
		},
		{
			name: "failed uses retry interval",
			job: ETLJob{
				Active:           true,
				Status:           StatusFailed,
				ScheduleInterval: 24 * time.Hour,
				RetryInterval:    30 * time.Second,
				LastRunStartedAt: &minuteAgo,
			},
			want: true,
		},
		{
			name: "failed retry interval not elapsed",
			job: ETLJob{
				Active:           true,
				Status:           StatusFailed,
				ScheduleInterval: 24 * time.Hour,
				RetryInterval:    time.Hour,
				LastRunStartedAt: &minuteAgo,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDue(&tt.job, now))
		})
	}
}

func TestDecodeCheckpoint(t *testing.T) {
	job := &ETLJob{}
	cp, err := job.DecodeCheckpoint()
	require.NoError(t, err)
	assert.Nil(t, cp, "no checkpoint on a fresh job")

	job.CheckpointData = json.RawMessage(`{"step":"jira_issues","cursor":{"start_at":200,"project_index":1}}`)
	cp, err = job.DecodeCheckpoint()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "jira_issues", cp.Step)
	assert.JSONEq(t, `{"start_at":200,"project_index":1}`, string(cp.Cursor))

	job.CheckpointData = json.RawMessage(`{broken`)
	_, err = job.DecodeCheckpoint()
	assert.Error(t, err)
}

func TestFirstStep(t *testing.T) {
	assert.Equal(t, pipeline.StepGitHubRepositories, firstStep(pipeline.ProviderGitHub))
	assert.Equal(t, pipeline.StepJiraProjects, firstStep(pipeline.ProviderJira))
}
