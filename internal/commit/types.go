// internal/commit/types.go
package commit

import (
	"time"
)

// Commit is a single immutable revision node in a project's history.
// ParentID is empty for root commits. Depth is nil until computed, either
// at creation (parent depth known) or later by the backfill job.
type Commit struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Branch      string            `json:"branch"`
	AuthorID    string            `json:"author_id"`
	BlobHash    string            `json:"blob_hash"`
	Message     string            `json:"message"`
	Description string            `json:"description,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Depth       *int64            `json:"depth,omitempty"`
}

// Recognized Meta keys. Anything else is carried through untouched but
// has no defined meaning.
const (
	MetaKeyEditor = "editor" // client editor that produced the revision
	MetaKeyOrigin = "origin" // where the commit request came from (web, cli)
)

// CreateRequest carries everything needed to append one commit.
type CreateRequest struct {
	ProjectID   string            `json:"project_id"`
	Branch      string            `json:"branch"`
	BlobHash    string            `json:"blob_hash"`
	AuthorID    string            `json:"author_id"`
	Message     string            `json:"message"`
	Description string            `json:"description,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"` // explicit parent; empty resolves to the branch tip
	Meta        map[string]string `json:"meta,omitempty"`

	// OverrideProtection permits committing to a protected branch. The
	// caller is responsible for deciding who may set it.
	OverrideProtection bool `json:"override_protection,omitempty"`
}

// Graph defines the commit-graph operations exposed to the API layer.
type Graph interface {
	Create(req CreateRequest) (*Commit, error)
	Get(commitID string) (*Commit, error)
	History(projectID string, branchNames []string) ([]*Commit, error)
	ResolveDepth(commitID string, memo map[string]int64) (int64, error)
}
