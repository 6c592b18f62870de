package canonical

import (
	"strings"
	"time"
)

// contentBuilder renders a record as "kind" header plus "field: value" lines.
// Empty values are skipped so sparse records stay compact.
type contentBuilder struct {
	sb strings.Builder
}

func newContent(kind string) *contentBuilder {
	b := &contentBuilder{}
	b.sb.WriteString(kind)
	return b
}

func (b *contentBuilder) add(field, value string) *contentBuilder {
	value = strings.TrimSpace(value)
	if value == "" {
		return b
	}
	b.sb.WriteString("\n")
	b.sb.WriteString(field)
	b.sb.WriteString(": ")
	b.sb.WriteString(value)
	return b
}

func (b *contentBuilder) addPtr(field string, value *string) *contentBuilder {
	if value == nil {
		return b
	}
	return b.add(field, *value)
}

func (b *contentBuilder) addTime(field string, value *time.Time) *contentBuilder {
	if value == nil || value.IsZero() {
		return b
	}
	return b.add(field, value.UTC().Format(time.RFC3339))
}

func (b *contentBuilder) String() string { return b.sb.String() }

func (p *Project) Content() string {
	return newContent("project").
		add("key", p.Key).
		add("name", p.Name).
		addPtr("description", p.Description).
		String()
}

func (w *WIT) Content() string {
	b := newContent("work item type").
		add("name", w.Name).
		addPtr("description", w.Description)
	if w.Subtask {
		b.add("subtask", "true")
	}
	return b.String()
}

func (wi *WorkItem) Content() string {
	b := newContent("work item").
		add("title", wi.Title).
		addPtr("description", wi.Description).
		add("project", wi.ProjectExternalID).
		addPtr("status", wi.StatusExternalID).
		addPtr("assignee", wi.Assignee).
		addPtr("reporter", wi.Reporter).
		addPtr("priority", wi.Priority)
	if len(wi.Labels) > 0 {
		b.add("labels", strings.Join(wi.Labels, ", "))
	}
	return b.addTime("updated", wi.ExternalUpdatedAt).String()
}

func (s *Status) Content() string {
	return newContent("status").
		add("name", s.Name).
		addPtr("category", s.Category).
		String()
}

func (wf *Workflow) Content() string {
	return newContent("workflow").
		add("name", wf.Name).
		addPtr("project", wf.ProjectExternalID).
		String()
}

func (sm *StatusMapping) Content() string {
	return newContent("status mapping").
		add("workflow", sm.WorkflowExternalID).
		add("status", sm.StatusName).
		add("flow step", sm.FlowStep).
		String()
}

func (cl *Changelog) Content() string {
	return newContent("change").
		add("work item", cl.WorkItemExternalID).
		add("field", cl.Field).
		addPtr("from", cl.OldValue).
		addPtr("to", cl.NewValue).
		addPtr("author", cl.Author).
		addTime("changed", cl.ChangedAt).
		String()
}

func (cf *CustomField) Content() string {
	return newContent("custom field").
		add("name", cf.Name).
		addPtr("type", cf.FieldType).
		String()
}

func (wh *WITHierarchy) Content() string {
	return newContent("type hierarchy").
		add("parent", wh.ParentWITExternalID).
		add("child", wh.ChildWITExternalID).
		String()
}

func (wm *WITMapping) Content() string {
	return newContent("type mapping").
		add("type", wm.WITExternalID).
		add("canonical type", wm.CanonicalType).
		String()
}

func (r *Repository) Content() string {
	return newContent("repository").
		add("owner", r.Owner).
		add("name", r.Name).
		addPtr("default branch", r.DefaultBranch).
		String()
}

func (pr *PR) Content() string {
	return newContent("pull request").
		add("title", pr.Title).
		addPtr("body", pr.Body).
		add("repository", pr.RepositoryExternalID).
		addPtr("state", pr.State).
		addPtr("author", pr.Author).
		addPtr("source branch", pr.SourceBranch).
		addPtr("target branch", pr.TargetBranch).
		addTime("merged", pr.MergedAt).
		addTime("updated", pr.ExternalUpdatedAt).
		String()
}

func (pc *PRCommit) Content() string {
	return newContent("commit").
		add("sha", pc.SHA).
		addPtr("message", pc.Message).
		addPtr("author", pc.Author).
		addTime("committed", pc.CommittedAt).
		String()
}

func (prv *PRReview) Content() string {
	return newContent("review").
		add("pull request", prv.PRExternalID).
		addPtr("state", prv.State).
		addPtr("author", prv.Author).
		addPtr("body", prv.Body).
		addTime("submitted", prv.SubmittedAt).
		String()
}

func (pcm *PRComment) Content() string {
	return newContent("comment").
		add("pull request", pcm.PRExternalID).
		addPtr("author", pcm.Author).
		addPtr("body", pcm.Body).
		addTime("created", pcm.ExternalCreatedAt).
		String()
}

func (wpl *WITPRLink) Content() string {
	return newContent("work item link").
		add("work item", wpl.WorkItemExternalID).
		add("pull request", wpl.PRExternalID).
		String()
}
