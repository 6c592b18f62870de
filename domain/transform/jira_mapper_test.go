package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/pipeline"
)

func testMessage(dataType string) *pipeline.TransformMessage {
	return &pipeline.TransformMessage{
		Envelope: pipeline.Envelope{
			TenantID:      uuid.New(),
			IntegrationID: uuid.New(),
			JobID:         uuid.New(),
		},
		DataType: dataType,
	}
}

func TestMapJiraProjects(t *testing.T) {
	tm := testMessage(pipeline.StepJiraProjects)
	payload := []byte(`{
		"startAt": 0, "maxResults": 50, "total": 2, "isLast": true,
		"values": [
			{"id": "10001", "key": "ENG", "name": "Engineering", "description": "Core team"},
			{"id": "10002", "key": "OPS", "name": "Operations"}
		]
	}`)

	rs, err := mapJiraProjects(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.projects, 2)
	assert.Equal(t, "ENG", rs.projects[0].Key)
	assert.Equal(t, "Core team", *rs.projects[0].Description)
	assert.Nil(t, rs.projects[1].Description)
	assert.Equal(t, tm.TenantID, rs.projects[0].TenantID)

	require.Len(t, rs.embeds, 2)
	assert.Equal(t, embedRef{table: canonical.TableProjects, externalID: "10001"}, rs.embeds[0])
}

func TestMapJiraIssues(t *testing.T) {
	tm := testMessage(pipeline.StepJiraIssues)
	payload := []byte(`{
		"startAt": 0, "total": 1,
		"issues": [{
			"id": "10001", "key": "TEST-1",
			"fields": {
				"summary": "hello",
				"description": "first issue",
				"issuetype": {"id": "3"},
				"project": {"id": "20000", "key": "TEST"},
				"status": {"id": "1"},
				"assignee": {"displayName": "Dana"},
				"priority": {"name": "High"},
				"labels": ["alpha"],
				"created": "2026-01-10T08:00:00.000+0000",
				"updated": "2026-02-01T09:30:00.000+0000"
			}
		}]
	}`)

	rs, err := mapJiraIssues(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.workItems, 1)

	wi := rs.workItems[0]
	assert.Equal(t, "10001", wi.ExternalID)
	assert.Equal(t, "hello", wi.Title)
	assert.Equal(t, "first issue", *wi.Description)
	assert.Equal(t, "20000", wi.ProjectExternalID)
	assert.Equal(t, "Dana", *wi.Assignee)
	assert.Equal(t, "High", *wi.Priority)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC), *wi.ExternalUpdatedAt)

	require.Len(t, rs.embeds, 1)
	assert.Equal(t, canonical.TableWorkItems, rs.embeds[0].table)
	assert.Equal(t, "10001", rs.embeds[0].externalID)
}

func TestMapJiraIssues_ParentYieldsHierarchy(t *testing.T) {
	tm := testMessage(pipeline.StepJiraIssues)
	payload := []byte(`{
		"total": 2,
		"issues": [
			{"id": "1", "key": "ENG-1", "fields": {
				"summary": "sub a", "issuetype": {"id": "5"},
				"parent": {"id": "9", "fields": {"issuetype": {"id": "3"}}}
			}},
			{"id": "2", "key": "ENG-2", "fields": {
				"summary": "sub b", "issuetype": {"id": "5"},
				"parent": {"id": "9", "fields": {"issuetype": {"id": "3"}}}
			}}
		]
	}`)

	rs, err := mapJiraIssues(tm, payload)
	require.NoError(t, err)
	assert.Equal(t, "9", *rs.workItems[0].ParentExternalID)

	// The same parent/child type pair is emitted once per page.
	require.Len(t, rs.witHierarchies, 1)
	assert.Equal(t, "3", rs.witHierarchies[0].ParentWITExternalID)
	assert.Equal(t, "5", rs.witHierarchies[0].ChildWITExternalID)
}

func TestMapJiraIssues_RichTextDescription(t *testing.T) {
	tm := testMessage(pipeline.StepJiraIssues)
	payload := []byte(`{
		"total": 1,
		"issues": [{"id": "1", "key": "ENG-1", "fields": {
			"summary": "x",
			"description": {"type": "doc", "content": []}
		}}]
	}`)

	rs, err := mapJiraIssues(tm, payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"doc","content":[]}`, *rs.workItems[0].Description)
}

func TestMapJiraWorkflows_StatusMappings(t *testing.T) {
	tm := testMessage(pipeline.StepJiraWorkflows)
	payload := []byte(`{
		"total": 1, "isLast": true,
		"values": [{
			"id": {"name": "Software Flow", "entityId": "wf-1"},
			"statuses": [
				{"id": "1", "name": "  To Do  ", "statusCategory": {"key": "new"}},
				{"id": "2", "name": "In Review"},
				{"id": "3", "name": "Verifying", "statusCategory": {"key": "indeterminate"}}
			]
		}]
	}`)

	rs, err := mapJiraWorkflows(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.workflows, 1)
	assert.Equal(t, "wf-1", rs.workflows[0].ExternalID)

	require.Len(t, rs.statusMappings, 3)
	// Name matches are case-insensitive and trimmed.
	assert.Equal(t, FlowOpen, rs.statusMappings[0].FlowStep)
	assert.Equal(t, "wf-1:to do", rs.statusMappings[0].ExternalID)
	assert.Equal(t, FlowInReview, rs.statusMappings[1].FlowStep)
	// Unknown names fall back to the status category.
	assert.Equal(t, FlowInProgress, rs.statusMappings[2].FlowStep)
}

func TestMapJiraIssueTypes(t *testing.T) {
	tm := testMessage(pipeline.StepJiraIssueTypes)
	payload := []byte(`[
		{"id": "1", "name": "Bug", "subtask": false},
		{"id": "2", "name": "Sub-task", "subtask": true},
		{"id": "3", "name": "Epic", "subtask": false},
		{"id": "4", "name": "Spike", "subtask": false}
	]`)

	rs, err := mapJiraIssueTypes(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.wits, 4)
	require.Len(t, rs.witMappings, 4)
	assert.Equal(t, "bug", rs.witMappings[0].CanonicalType)
	assert.Equal(t, "subtask", rs.witMappings[1].CanonicalType)
	assert.Equal(t, "epic", rs.witMappings[2].CanonicalType)
	assert.Equal(t, "task", rs.witMappings[3].CanonicalType)
}

func TestMapJiraChangelogs(t *testing.T) {
	tm := testMessage(pipeline.StepJiraChangelogs)
	payload := []byte(`{
		"total": 1,
		"issues": [{
			"id": "10001", "key": "ENG-1", "fields": {},
			"changelog": {"histories": [{
				"id": "500",
				"author": {"displayName": "Sam"},
				"created": "2026-03-01T12:00:00.000+0000",
				"items": [
					{"field": "status", "fromString": "To Do", "toString": "In Progress"},
					{"field": "assignee", "fromString": "", "toString": "Dana"}
				]
			}]}
		}]
	}`)

	rs, err := mapJiraChangelogs(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.changelogs, 2)

	first := rs.changelogs[0]
	assert.Equal(t, "500:0", first.ExternalID)
	assert.Equal(t, "10001", first.WorkItemExternalID)
	assert.Equal(t, "status", first.Field)
	assert.Equal(t, "To Do", *first.OldValue)
	assert.Equal(t, "In Progress", *first.NewValue)
	assert.Equal(t, "Sam", *first.Author)

	assert.Nil(t, rs.changelogs[1].OldValue, "empty from value stays null")
}

func TestMapJiraDevStatus(t *testing.T) {
	tm := testMessage(pipeline.StepJiraDevStatus)
	payload := []byte(`{
		"issues": [{
			"id": "10001", "key": "ENG-1",
			"pullRequests": [
				{"id": "#42", "name": "Add retries", "status": "MERGED"},
				{"id": "#43", "status": "OPEN"}
			]
		}]
	}`)

	rs, err := mapJiraDevStatus(tm, payload)
	require.NoError(t, err)
	require.Len(t, rs.witPRLinks, 2)

	first := rs.witPRLinks[0]
	assert.Equal(t, "10001:42", first.ExternalID, "panel PR ids lose their # prefix")
	assert.Equal(t, "10001", first.WorkItemExternalID)
	assert.Equal(t, "42", first.PRExternalID)
	assert.Equal(t, "43", rs.witPRLinks[1].PRExternalID)
	assert.Empty(t, rs.embeds, "links carry no indexable content")
}

func TestMapJiraDevStatus_Empty(t *testing.T) {
	rs, err := mapJiraDevStatus(testMessage(pipeline.StepJiraDevStatus), []byte(`{"issues":[]}`))
	require.NoError(t, err)
	assert.Empty(t, rs.witPRLinks)
}

func TestMapPayload_UnknownType(t *testing.T) {
	_, err := mapPayload(testMessage("bogus"), []byte(`{}`))
	assert.ErrorContains(t, err, "unknown data type")
}

func TestFlowStepFor(t *testing.T) {
	tests := []struct {
		name     string
		category string
		want     string
	}{
		{"Done", "", FlowDone},
		{"  dOnE ", "", FlowDone},
		{"Code Review", "", FlowInReview},
		{"Weird Custom", "indeterminate", FlowInProgress},
		{"Weird Custom", "", FlowOpen},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, flowStepFor(tt.name, tt.category), tt.name)
	}
}

func TestParseJiraTime(t *testing.T) {
	assert.Nil(t, parseJiraTime(""))
	assert.Nil(t, parseJiraTime("not a time"))

	got := parseJiraTime("2026-02-01T10:30:00.000+0200")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC), *got)

	got = parseJiraTime("2026-02-01T10:30:00Z")
	require.NotNil(t, got)
}

func TestLenientString(t *testing.T) {
	assert.Nil(t, lenientString(nil))
	assert.Nil(t, lenientString(json.RawMessage(`null`)))
	assert.Nil(t, lenientString(json.RawMessage(`""`)))
	assert.Equal(t, "plain", *lenientString(json.RawMessage(`"plain"`)))
	assert.Equal(t, `{"doc":1}`, *lenientString(json.RawMessage(`{"doc":1}`)))
}
