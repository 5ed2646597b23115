// internal/branch/types.go
package branch

import (
	"time"
)

// Branch is a mutable named pointer into a project's commit graph.
// LatestCommitID is empty until the first commit lands on the branch.
type Branch struct {
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	CreatorID      string    `json:"creator_id"`
	Description    string    `json:"description,omitempty"`
	LatestCommitID string    `json:"latest_commit_id,omitempty"`
	Protected      bool      `json:"protected"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Directory defines the branch-pointer operations the commit graph and
// fork engine build on.
type Directory interface {
	Ensure(projectID, name, creatorID string) (*Branch, error)
	Get(projectID, name string) (*Branch, error)
	List(projectID string) ([]*Branch, error)
	Advance(projectID, name, expectedTip, newTip string) error
}
