// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"attic/internal/blob"
	"attic/internal/branch"
	"attic/internal/capability"
	"attic/internal/commit"
	errs "attic/internal/errors"
	"attic/internal/fork"
)

// PermissionOracle answers project-level access questions. The real
// evaluator lives outside this subsystem; handlers consult it before
// creating commits or minting read capabilities.
type PermissionOracle interface {
	CanRead(projectID, userID string) bool
	CanWrite(projectID, userID string) bool
}

// AllowAll grants every request. Stand-in wiring until a real evaluator
// is plugged in at the boundary.
type AllowAll struct{}

func (AllowAll) CanRead(projectID, userID string) bool  { return true }
func (AllowAll) CanWrite(projectID, userID string) bool { return true }

// userHeader carries the authenticated user id set by the (external)
// session layer.
const userHeader = "X-User-ID"

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, err error) {
	var ae *errs.Error
	if errors.As(err, &ae) {
		respondJSON(w, ae.Code, ae)
		return
	}
	respondJSON(w, http.StatusInternalServerError, errs.Storage("internal error", nil))
}

// BlobHandler serves content-addressed payload reads and writes.
type BlobHandler struct {
	blobs  *blob.Store
	caps   *capability.Issuer
	oracle PermissionOracle
}

func NewBlobHandler(blobs *blob.Store, caps *capability.Issuer, oracle PermissionOracle) *BlobHandler {
	return &BlobHandler{blobs: blobs, caps: caps, oracle: oracle}
}

type putBlobRequest struct {
	ProjectID string `json:"project_id"`
	Content   string `json:"content"`
}

type putBlobResponse struct {
	Hash string `json:"hash"`
}

// Put stores a payload and returns its content hash.
func (h *BlobHandler) Put(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		respondError(w, errs.ValidationError("missing user header", nil))
		return
	}

	var req putBlobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.ValidationError("invalid request body", err.Error()))
		return
	}
	if !h.oracle.CanWrite(req.ProjectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	hash, err := h.blobs.Put([]byte(req.Content), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, putBlobResponse{Hash: hash})
}

// Get serves a payload. Access is granted by a previously issued read
// capability, not by re-running the permission oracle.
func (h *BlobHandler) Get(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	token := r.URL.Query().Get("token")
	userID := r.Header.Get(userHeader)

	granted, err := h.caps.Verify(token, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if granted != hash {
		respondError(w, errs.InvalidCapability("capability rejected"))
		return
	}

	payload, err := h.blobs.Get(hash)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(payload)
}

// CommitHandler serves commit creation, lookup and history queries.
type CommitHandler struct {
	commits commit.Graph
	caps    *capability.Issuer
	oracle  PermissionOracle
}

func NewCommitHandler(commits commit.Graph, caps *capability.Issuer, oracle PermissionOracle) *CommitHandler {
	return &CommitHandler{commits: commits, caps: caps, oracle: oracle}
}

// Create appends a commit to a branch of the project.
func (h *CommitHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	userID := r.Header.Get(userHeader)
	if userID == "" {
		respondError(w, errs.ValidationError("missing user header", nil))
		return
	}
	if !h.oracle.CanWrite(projectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	var req commit.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.ValidationError("invalid request body", err.Error()))
		return
	}
	req.ProjectID = projectID
	req.AuthorID = userID

	c, err := h.commits.Create(req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

type commitResponse struct {
	Commit    *commit.Commit `json:"commit"`
	BlobToken string         `json:"blob_token,omitempty"`
}

// Get returns a commit's metadata together with a freshly minted read
// capability for its blob, so the client can fetch content without a
// second permission round-trip.
func (h *CommitHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	commitID := r.PathValue("commit_id")
	userID := r.Header.Get(userHeader)

	if !h.oracle.CanRead(projectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	c, err := h.commits.Get(commitID)
	if err != nil {
		respondError(w, err)
		return
	}

	token, err := h.caps.Issue(c.BlobHash, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, commitResponse{Commit: c, BlobToken: token})
}

// History returns the commits reachable from the named branches, newest
// first. Branch names come comma-separated in the "branches" parameter.
func (h *CommitHandler) History(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	userID := r.Header.Get(userHeader)

	if !h.oracle.CanRead(projectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	var names []string
	for _, name := range strings.Split(r.URL.Query().Get("branches"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	commits, err := h.commits.History(projectID, names)
	if err != nil {
		respondError(w, err)
		return
	}
	if commits == nil {
		commits = []*commit.Commit{}
	}
	respondJSON(w, http.StatusOK, commits)
}

// BranchHandler serves branch directory reads.
type BranchHandler struct {
	branches *branch.Store
	oracle   PermissionOracle
}

func NewBranchHandler(branches *branch.Store, oracle PermissionOracle) *BranchHandler {
	return &BranchHandler{branches: branches, oracle: oracle}
}

func (h *BranchHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	userID := r.Header.Get(userHeader)

	if !h.oracle.CanRead(projectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	branches, err := h.branches.List(projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	if branches == nil {
		branches = []*branch.Branch{}
	}
	respondJSON(w, http.StatusOK, branches)
}

func (h *BranchHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	name := r.PathValue("name")
	userID := r.Header.Get(userHeader)

	if !h.oracle.CanRead(projectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	br, err := h.branches.Get(projectID, name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, br)
}

// ForkHandler seeds new projects from existing ones.
type ForkHandler struct {
	engine *fork.Engine
	oracle PermissionOracle
}

func NewForkHandler(engine *fork.Engine, oracle PermissionOracle) *ForkHandler {
	return &ForkHandler{engine: engine, oracle: oracle}
}

func (h *ForkHandler) Fork(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	userID := r.Header.Get(userHeader)
	if userID == "" {
		respondError(w, errs.ValidationError("missing user header", nil))
		return
	}

	var req fork.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.ValidationError("invalid request body", err.Error()))
		return
	}
	req.SourceProjectID = sourceID
	req.CreatorID = userID

	if !h.oracle.CanRead(sourceID, userID) || !h.oracle.CanWrite(req.TargetProjectID, userID) {
		respondError(w, errs.InvalidCapability("not permitted"))
		return
	}

	branches, err := h.engine.Fork(req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, branches)
}
