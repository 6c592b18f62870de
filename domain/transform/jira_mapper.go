package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/extraction/providers/jira"
	"github.com/relaydev/syncd/domain/pipeline"
)

// jiraTimeLayout is the timestamp format Jira uses in issue fields and
// changelog entries.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

func parseJiraTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(jiraTimeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return nil
		}
	}
	t = t.UTC()
	return &t
}

// issueFields is the subset of Jira issue fields the mapper consumes.
// Description may arrive as plain text or a rich-text document, so it is
// decoded leniently.
type issueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	IssueType   struct {
		ID string `json:"id"`
	} `json:"issuetype"`
	Project struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"project"`
	Status struct {
		ID string `json:"id"`
	} `json:"status"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Reporter *struct {
		DisplayName string `json:"displayName"`
	} `json:"reporter"`
	Priority *struct {
		Name string `json:"name"`
	} `json:"priority"`
	Labels []string `json:"labels"`
	Parent *struct {
		ID     string `json:"id"`
		Fields struct {
			IssueType struct {
				ID string `json:"id"`
			} `json:"issuetype"`
		} `json:"fields"`
	} `json:"parent"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// lenientString extracts a usable string from a field that may be a JSON
// string or a structured document. Structured content is kept as raw JSON
// text.
func lenientString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strOrNil(s)
	}
	return strOrNil(string(raw))
}

// issueChangelog is the changelog block attached to an issue when the
// search is expanded.
type issueChangelog struct {
	Histories []struct {
		ID     string `json:"id"`
		Author *struct {
			DisplayName string `json:"displayName"`
		} `json:"author"`
		Created string `json:"created"`
		Items   []struct {
			Field      string `json:"field"`
			FromString string `json:"fromString"`
			ToString   string `json:"toString"`
		} `json:"items"`
	} `json:"histories"`
}

func mapJiraProjects(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var resp jira.ProjectSearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse projects page: %w", err)
	}

	rs := &recordSet{}
	for _, p := range resp.Values {
		rs.projects = append(rs.projects, &canonical.Project{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    p.ID,
			Name:          p.Name,
			Key:           p.Key,
			Description:   strOrNil(p.Description),
			URL:           strOrNil(p.Self),
			Active:        true,
		})
		rs.addEmbed(canonical.TableProjects, p.ID)
	}
	return rs, nil
}

func mapJiraIssueTypes(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var types []jira.IssueType
	if err := json.Unmarshal(payload, &types); err != nil {
		return nil, fmt.Errorf("parse issue types: %w", err)
	}

	rs := &recordSet{}
	for _, it := range types {
		rs.wits = append(rs.wits, &canonical.WIT{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    it.ID,
			Name:          it.Name,
			Description:   strOrNil(it.Description),
			IconURL:       strOrNil(it.IconURL),
			Subtask:       it.Subtask,
			Active:        true,
		})
		rs.witMappings = append(rs.witMappings, &canonical.WITMapping{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    it.ID,
			WITExternalID: it.ID,
			CanonicalType: canonicalWITType(it),
			Active:        true,
		})
		rs.addEmbed(canonical.TableWITs, it.ID)
	}
	return rs, nil
}

// canonicalWITType buckets a provider issue type by name.
func canonicalWITType(it jira.IssueType) string {
	if it.Subtask {
		return "subtask"
	}
	switch name := strings.ToLower(strings.TrimSpace(it.Name)); {
	case strings.Contains(name, "epic"):
		return "epic"
	case strings.Contains(name, "bug"), strings.Contains(name, "defect"):
		return "bug"
	case strings.Contains(name, "story"):
		return "story"
	default:
		return "task"
	}
}

func mapJiraStatuses(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var statuses []jira.Status
	if err := json.Unmarshal(payload, &statuses); err != nil {
		return nil, fmt.Errorf("parse statuses: %w", err)
	}

	rs := &recordSet{}
	for _, s := range statuses {
		var category *string
		if s.StatusCategory != nil {
			category = strOrNil(s.StatusCategory.Key)
		}
		rs.statuses = append(rs.statuses, &canonical.Status{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    s.ID,
			Name:          s.Name,
			Category:      category,
			Active:        true,
		})
		rs.addEmbed(canonical.TableStatuses, s.ID)
	}
	return rs, nil
}

func mapJiraCustomFields(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var fields []jira.Field
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("parse custom fields: %w", err)
	}

	rs := &recordSet{}
	for _, f := range fields {
		var fieldType *string
		if len(f.Schema) > 0 {
			var schema struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(f.Schema, &schema) == nil {
				fieldType = strOrNil(schema.Type)
			}
		}
		rs.customFields = append(rs.customFields, &canonical.CustomField{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    f.ID,
			Name:          f.Name,
			FieldType:     fieldType,
			FieldSchema:   f.Schema,
			Active:        true,
		})
		rs.addEmbed(canonical.TableCustomFields, f.ID)
	}
	return rs, nil
}

// mapJiraWorkflows writes the workflow rows plus one status mapping per
// workflow status, resolved through the name-to-flow-step table.
func mapJiraWorkflows(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var resp jira.WorkflowSearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse workflows page: %w", err)
	}

	rs := &recordSet{}
	for _, wf := range resp.Values {
		wfID := wf.ID.EntityID
		if wfID == "" {
			wfID = wf.ID.Name
		}
		rs.workflows = append(rs.workflows, &canonical.Workflow{
			TenantID:      tm.TenantID,
			IntegrationID: tm.IntegrationID,
			ExternalID:    wfID,
			Name:          wf.ID.Name,
			Active:        true,
		})
		rs.addEmbed(canonical.TableWorkflows, wfID)

		for _, s := range wf.Statuses {
			var categoryKey string
			if s.StatusCategory != nil {
				categoryKey = s.StatusCategory.Key
			}
			mappingID := wfID + ":" + normalizeStatusName(s.Name)
			rs.statusMappings = append(rs.statusMappings, &canonical.StatusMapping{
				TenantID:           tm.TenantID,
				IntegrationID:      tm.IntegrationID,
				ExternalID:         mappingID,
				WorkflowExternalID: wfID,
				StatusName:         s.Name,
				FlowStep:           flowStepFor(s.Name, categoryKey),
				Active:             true,
			})
		}
	}
	return rs, nil
}

// mapJiraIssues writes work item rows. Parent links also yield type
// hierarchy rows, since the parent reference carries the parent's type.
func mapJiraIssues(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var resp jira.SearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse issues page: %w", err)
	}

	rs := &recordSet{}
	seenHierarchy := make(map[string]bool)
	for _, issue := range resp.Issues {
		var fields issueFields
		if err := json.Unmarshal(issue.Fields, &fields); err != nil {
			return nil, fmt.Errorf("parse fields of issue %s: %w", issue.Key, err)
		}

		wi := &canonical.WorkItem{
			TenantID:          tm.TenantID,
			IntegrationID:     tm.IntegrationID,
			ExternalID:        issue.ID,
			ProjectExternalID: fields.Project.ID,
			WITExternalID:     fields.IssueType.ID,
			Title:             fields.Summary,
			Description:       lenientString(fields.Description),
			StatusExternalID:  strOrNil(fields.Status.ID),
			Labels:            fields.Labels,
			ExternalCreatedAt: parseJiraTime(fields.Created),
			ExternalUpdatedAt: parseJiraTime(fields.Updated),
			Active:            true,
		}
		if fields.Assignee != nil {
			wi.Assignee = strOrNil(fields.Assignee.DisplayName)
		}
		if fields.Reporter != nil {
			wi.Reporter = strOrNil(fields.Reporter.DisplayName)
		}
		if fields.Priority != nil {
			wi.Priority = strOrNil(fields.Priority.Name)
		}
		if fields.Parent != nil {
			wi.ParentExternalID = strOrNil(fields.Parent.ID)

			parentType := fields.Parent.Fields.IssueType.ID
			childType := fields.IssueType.ID
			if parentType != "" && childType != "" && parentType != childType {
				key := parentType + ":" + childType
				if !seenHierarchy[key] {
					seenHierarchy[key] = true
					rs.witHierarchies = append(rs.witHierarchies, &canonical.WITHierarchy{
						TenantID:            tm.TenantID,
						IntegrationID:       tm.IntegrationID,
						ExternalID:          key,
						ParentWITExternalID: parentType,
						ChildWITExternalID:  childType,
						Level:               1,
						Active:              true,
					})
				}
			}
		}

		rs.workItems = append(rs.workItems, wi)
		rs.addEmbed(canonical.TableWorkItems, issue.ID)
	}
	return rs, nil
}

// mapJiraDevStatus writes one link row per pull request the tracker's
// development panel associates with an issue. These complement the
// key-scan links from PR text: here the work item side carries the issue
// ID and the PR side the code host's identifier.
func mapJiraDevStatus(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var page jira.DevStatusPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("parse dev status page: %w", err)
	}

	rs := &recordSet{}
	for _, issue := range page.Issues {
		for _, pr := range issue.PullRequests {
			prID := strings.TrimPrefix(pr.ID, "#")
			rs.witPRLinks = append(rs.witPRLinks, &canonical.WITPRLink{
				TenantID:           tm.TenantID,
				IntegrationID:      tm.IntegrationID,
				ExternalID:         issue.ID + ":" + prID,
				WorkItemExternalID: issue.ID,
				PRExternalID:       prID,
				Active:             true,
			})
		}
	}
	return rs, nil
}

// mapJiraChangelogs flattens the expanded changelog of each issue into one
// row per changed field.
func mapJiraChangelogs(tm *pipeline.TransformMessage, payload []byte) (*recordSet, error) {
	var resp jira.SearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse changelog page: %w", err)
	}

	rs := &recordSet{}
	for _, issue := range resp.Issues {
		if len(issue.Changelog) == 0 {
			continue
		}
		var changelog issueChangelog
		if err := json.Unmarshal(issue.Changelog, &changelog); err != nil {
			return nil, fmt.Errorf("parse changelog of issue %s: %w", issue.Key, err)
		}

		for _, history := range changelog.Histories {
			var author *string
			if history.Author != nil {
				author = strOrNil(history.Author.DisplayName)
			}
			for i, item := range history.Items {
				externalID := fmt.Sprintf("%s:%d", history.ID, i)
				rs.changelogs = append(rs.changelogs, &canonical.Changelog{
					TenantID:           tm.TenantID,
					IntegrationID:      tm.IntegrationID,
					ExternalID:         externalID,
					WorkItemExternalID: issue.ID,
					Field:              item.Field,
					OldValue:           strOrNil(item.FromString),
					NewValue:           strOrNil(item.ToString),
					Author:             author,
					ChangedAt:          parseJiraTime(history.Created),
					Active:             true,
				})
				rs.addEmbed(canonical.TableChangelogs, externalID)
			}
		}
	}
	return rs, nil
}
