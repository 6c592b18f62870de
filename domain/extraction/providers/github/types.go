package github

import "time"

// GraphQL response shapes, trimmed to what the pipeline consumes.

// PageInfo is the standard connection pagination block.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// RateLimit is the API quota block requested with every query.
type RateLimit struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Actor is a user reference.
type Actor struct {
	Login string `json:"login"`
}

// Repository is one repository node.
type Repository struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	Owner            Actor  `json:"owner"`
	DefaultBranchRef *struct {
		Name string `json:"name"`
	} `json:"defaultBranchRef,omitempty"`
}

// RepositoryPage is one page of the viewer's repositories.
type RepositoryPage struct {
	PageInfo PageInfo     `json:"pageInfo"`
	Nodes    []Repository `json:"nodes"`
}

// Commit is one commit inside a pull request.
type Commit struct {
	Commit struct {
		OID           string    `json:"oid"`
		Message       string    `json:"message"`
		CommittedDate time.Time `json:"committedDate"`
		Author        struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"commit"`
}

// Review is one pull request review.
type Review struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	Body        string     `json:"body"`
	SubmittedAt *time.Time `json:"submittedAt"`
	Author      *Actor     `json:"author"`
}

// Comment is one pull request comment.
type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Author    *Actor    `json:"author"`
}

// CommitConnection is the first page of a PR's commits.
type CommitConnection struct {
	PageInfo PageInfo `json:"pageInfo"`
	Nodes    []Commit `json:"nodes"`
}

// ReviewConnection is the first page of a PR's reviews.
type ReviewConnection struct {
	PageInfo PageInfo `json:"pageInfo"`
	Nodes    []Review `json:"nodes"`
}

// CommentConnection is the first page of a PR's comments.
type CommentConnection struct {
	PageInfo PageInfo  `json:"pageInfo"`
	Nodes    []Comment `json:"nodes"`
}

// ReviewThread is one inline review thread with its comments.
type ReviewThread struct {
	ID       string            `json:"id"`
	Comments CommentConnection `json:"comments"`
}

// ThreadConnection is the first page of a PR's review threads.
type ThreadConnection struct {
	PageInfo PageInfo       `json:"pageInfo"`
	Nodes    []ReviewThread `json:"nodes"`
}

// PullRequest is one PR node with the first page of each nested
// connection.
type PullRequest struct {
	ID          string     `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`
	BaseRefName string     `json:"baseRefName"`
	HeadRefName string     `json:"headRefName"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	MergedAt    *time.Time `json:"mergedAt"`
	ClosedAt    *time.Time `json:"closedAt"`
	Author      *Actor     `json:"author"`

	Commits       CommitConnection  `json:"commits"`
	Reviews       ReviewConnection  `json:"reviews"`
	Comments      CommentConnection `json:"comments"`
	ReviewThreads ThreadConnection  `json:"reviewThreads"`
}

// PullRequestPage is one page of a repository's PRs, newest updates first.
type PullRequestPage struct {
	PageInfo PageInfo      `json:"pageInfo"`
	Nodes    []PullRequest `json:"nodes"`
}

// NestedPage is one continuation page of a single PR's nested connection.
// Exactly one of the connections is populated, matching the requested kind.
type NestedPage struct {
	PRID     string             `json:"pr_id"`
	Number   int                `json:"number"`
	Kind     string             `json:"kind"`
	Commits  *CommitConnection  `json:"commits,omitempty"`
	Reviews  *ReviewConnection  `json:"reviews,omitempty"`
	Comments *CommentConnection `json:"comments,omitempty"`
	Threads  *ThreadConnection  `json:"reviewThreads,omitempty"`
}
