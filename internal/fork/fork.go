// internal/fork/fork.go
package fork

import (
	"fmt"

	"attic/internal/branch"
	errs "attic/internal/errors"
)

// Mode selects which branches a fork copies.
type Mode string

const (
	ModeDefaultBranch Mode = "default_branch"
	ModeAllBranches   Mode = "all_branches"
)

// Request describes one fork operation. DefaultBranch names the source
// project's default branch and is required for ModeDefaultBranch; the
// project entity owning that setting lives outside this subsystem.
type Request struct {
	SourceProjectID string `json:"source_project_id"`
	TargetProjectID string `json:"target_project_id"`
	Mode            Mode   `json:"mode"`
	DefaultBranch   string `json:"default_branch,omitempty"`
	CreatorID       string `json:"creator_id"`
}

// Engine seeds a new project's branch directory from an existing one.
// Only branch pointers are copied; the forked project shares the source's
// commit and blob rows until its history diverges.
type Engine struct {
	branches *branch.Store
}

func NewEngine(branches *branch.Store) *Engine {
	return &Engine{branches: branches}
}

func (e *Engine) validate(req Request) error {
	if req.SourceProjectID == "" {
		return errs.ValidationError("source project id is required", nil)
	}
	if req.TargetProjectID == "" {
		return errs.ValidationError("target project id is required", nil)
	}
	if req.SourceProjectID == req.TargetProjectID {
		return errs.ValidationError("cannot fork a project into itself", nil)
	}
	switch req.Mode {
	case ModeDefaultBranch:
		if req.DefaultBranch == "" {
			return errs.ValidationError("default branch name is required", nil)
		}
	case ModeAllBranches:
	default:
		return errs.ValidationError(fmt.Sprintf("unknown fork mode: %q", req.Mode), nil)
	}
	return nil
}

// Fork copies the selected source branches into the target project and
// returns the created branch rows.
func (e *Engine) Fork(req Request) ([]*branch.Branch, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	var sources []*branch.Branch
	switch req.Mode {
	case ModeDefaultBranch:
		br, err := e.branches.Get(req.SourceProjectID, req.DefaultBranch)
		if err != nil {
			return nil, err
		}
		sources = []*branch.Branch{br}
	case ModeAllBranches:
		all, err := e.branches.List(req.SourceProjectID)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, errs.NotFound(fmt.Sprintf("project has no branches: %s", req.SourceProjectID))
		}
		sources = all
	}

	created := make([]*branch.Branch, 0, len(sources))
	for _, src := range sources {
		target := &branch.Branch{
			ProjectID:      req.TargetProjectID,
			Name:           src.Name,
			CreatorID:      req.CreatorID,
			Description:    src.Description,
			LatestCommitID: src.LatestCommitID,
			Protected:      src.Protected,
		}
		if err := e.branches.Create(target); err != nil {
			return created, err
		}
		created = append(created, target)
	}
	return created, nil
}
