package transform

import "github.com/relaydev/syncd/domain/canonical"

// embedRef points at one canonical record to index.
type embedRef struct {
	table      string
	externalID string
}

// recordSet accumulates the canonical rows and embedding references mapped
// from one staged payload.
type recordSet struct {
	projects       []*canonical.Project
	wits           []*canonical.WIT
	workItems      []*canonical.WorkItem
	statuses       []*canonical.Status
	workflows      []*canonical.Workflow
	statusMappings []*canonical.StatusMapping
	changelogs     []*canonical.Changelog
	customFields   []*canonical.CustomField
	witHierarchies []*canonical.WITHierarchy
	witMappings    []*canonical.WITMapping
	repositories   []*canonical.Repository
	prs            []*canonical.PR
	prCommits      []*canonical.PRCommit
	prReviews      []*canonical.PRReview
	prComments     []*canonical.PRComment
	witPRLinks     []*canonical.WITPRLink

	embeds []embedRef
}

func (rs *recordSet) addEmbed(table, externalID string) {
	rs.embeds = append(rs.embeds, embedRef{table: table, externalID: externalID})
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
