// internal/commit/store.go
package commit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"attic/internal/branch"
	errs "attic/internal/errors"
)

// createAttempts bounds transparent retries when a concurrent commit wins
// the branch-pointer race.
const createAttempts = 3

// Store is the badger-backed commit graph. Commit rows are append-only;
// the only mutation ever applied to one is filling a null depth.
type Store struct {
	db       *badger.DB
	branches *branch.Store
	now      func() time.Time
	nonce    func() string
}

func NewStore(db *badger.DB, branches *branch.Store) *Store {
	return &Store{
		db:       db,
		branches: branches,
		now:      time.Now,
		nonce:    randomNonce,
	}
}

func randomNonce() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func commitKey(id string) []byte {
	return []byte("commit:" + id)
}

func projectKey(projectID, id string) []byte {
	return []byte(fmt.Sprintf("cproj:%s:%s", projectID, id))
}

// depthKey zero-pads the depth so lexicographic key order equals numeric
// order and history's fast path is one bounded prefix scan.
func depthKey(projectID string, depth int64, id string) []byte {
	return []byte(fmt.Sprintf("cdepth:%s:%010d:%s", projectID, depth, id))
}

// computeID derives the commit id from the commit's logical fields plus
// a timestamp and a random nonce, so content-identical resubmissions get
// distinct ids. Commit ids favor uniqueness over dedup, unlike blobs.
func computeID(req CreateRequest, parentID string, ts time.Time, nonce string) string {
	h := sha256.New()
	for _, field := range []string{
		req.AuthorID,
		req.ProjectID,
		req.BlobHash,
		req.Message,
		req.Description,
		parentID,
		strconv.FormatInt(ts.UnixNano(), 10),
		nonce,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validate(req CreateRequest) error {
	if req.ProjectID == "" {
		return errs.ValidationError("project id is required", nil)
	}
	if req.Branch == "" {
		return errs.ValidationError("branch is required", nil)
	}
	if req.BlobHash == "" {
		return errs.ValidationError("blob hash is required", nil)
	}
	if req.AuthorID == "" {
		return errs.ValidationError("author id is required", nil)
	}
	if req.Message == "" {
		return errs.ValidationError("message is required", nil)
	}
	return nil
}

// Create appends a commit to the named branch and atomically advances the
// branch tip. Races with concurrent commits on the same branch are
// retried transparently with a re-resolved parent, unless the caller
// pinned an explicit parent, in which case the conflict surfaces.
func (s *Store) Create(req CreateRequest) (*Commit, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		c, err := s.tryCreate(req)
		if err == nil {
			return c, nil
		}
		if !errs.IsType(err, errs.ErrorTypeConflict) {
			return nil, err
		}
		if req.ParentID != "" {
			// The pinned parent is no longer the tip; retrying cannot help.
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) tryCreate(req CreateRequest) (*Commit, error) {
	br, err := s.branches.Ensure(req.ProjectID, req.Branch, req.AuthorID)
	if err != nil {
		return nil, err
	}
	if br.Protected && !req.OverrideProtection {
		return nil, errs.BranchProtected(fmt.Sprintf("branch is protected: %s/%s", req.ProjectID, req.Branch))
	}

	parentID, parent, err := s.resolveParent(req, br)
	if err != nil {
		return nil, err
	}

	// An explicit parent pins the expected tip: the commit lands only if
	// that parent is still the head of the branch.
	expectedTip := br.LatestCommitID
	if req.ParentID != "" {
		expectedTip = parentID
	}

	var depth *int64
	if parentID == "" {
		zero := int64(0)
		depth = &zero
	} else if parent.Depth != nil {
		d := *parent.Depth + 1
		depth = &d
	}

	now := s.now()
	c := &Commit{
		ID:          computeID(req, parentID, now, s.nonce()),
		ProjectID:   req.ProjectID,
		Branch:      req.Branch,
		AuthorID:    req.AuthorID,
		BlobHash:    req.BlobHash,
		Message:     req.Message,
		Description: req.Description,
		ParentID:    parentID,
		Meta:        req.Meta,
		CreatedAt:   now,
		Depth:       depth,
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, errs.Storage("marshaling commit", err)
	}

	// The commit row and the tip swing land in one transaction; badger's
	// conflict detection catches writers racing on the same branch row.
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(commitKey(c.ID), data); err != nil {
			return err
		}
		if err := txn.Set(projectKey(c.ProjectID, c.ID), nil); err != nil {
			return err
		}
		if c.Depth != nil {
			if err := txn.Set(depthKey(c.ProjectID, *c.Depth, c.ID), nil); err != nil {
				return err
			}
		}
		return s.branches.AdvanceTxn(txn, req.ProjectID, req.Branch, expectedTip, c.ID)
	})
	if err == badger.ErrConflict {
		return nil, errs.Conflict(fmt.Sprintf("concurrent commit on %s/%s", req.ProjectID, req.Branch))
	}
	if err != nil {
		var ae *errs.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, errs.Storage("persisting commit", err)
	}
	return c, nil
}

// resolveParent returns the parent commit id (empty for a root commit)
// and the loaded parent node. An explicit parent must belong to the
// request's project and branch, or be the branch's current tip; the
// latter covers tips inherited from a fork, which legitimately live
// under the source project's id.
func (s *Store) resolveParent(req CreateRequest, br *branch.Branch) (string, *Commit, error) {
	if req.ParentID != "" {
		parent, err := s.Get(req.ParentID)
		if err != nil {
			if errs.IsType(err, errs.ErrorTypeNotFound) {
				return "", nil, errs.InvalidParent(fmt.Sprintf("parent commit not found: %s", req.ParentID))
			}
			return "", nil, err
		}
		sameLine := parent.ProjectID == req.ProjectID && parent.Branch == req.Branch
		if !sameLine && parent.ID != br.LatestCommitID {
			return "", nil, errs.InvalidParent(fmt.Sprintf("parent belongs to %s/%s, not %s/%s",
				parent.ProjectID, parent.Branch, req.ProjectID, req.Branch))
		}
		return parent.ID, parent, nil
	}

	if br.LatestCommitID == "" {
		return "", nil, nil // first commit of the branch
	}
	parent, err := s.Get(br.LatestCommitID)
	if err != nil {
		return "", nil, err
	}
	return parent.ID, parent, nil
}

// Get retrieves a commit by id.
func (s *Store) Get(commitID string) (*Commit, error) {
	if commitID == "" {
		return nil, errs.ValidationError("commit id is required", nil)
	}

	var c Commit
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(commitKey(commitID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errs.NotFound(fmt.Sprintf("commit not found: %s", commitID))
	}
	if err != nil {
		return nil, errs.Storage("getting commit", err)
	}
	return &c, nil
}

// History returns the commits reachable from the named branches' tips,
// newest first. When every tip carries a cached depth the result comes
// from one ranged scan over the depth index; otherwise (or when the
// index turns out stale) it falls back to a parent-chain traversal.
func (s *Store) History(projectID string, branchNames []string) ([]*Commit, error) {
	if projectID == "" {
		return nil, errs.ValidationError("project id is required", nil)
	}
	if len(branchNames) == 0 {
		return nil, errs.ValidationError("at least one branch name is required", nil)
	}

	var tips []*Commit
	for _, name := range branchNames {
		br, err := s.branches.Get(projectID, name)
		if err != nil {
			return nil, err
		}
		if br.LatestCommitID == "" {
			continue // branch exists but has no commits yet
		}
		tip, err := s.Get(br.LatestCommitID)
		if err != nil {
			return nil, err
		}
		tips = append(tips, tip)
	}
	if len(tips) == 0 {
		return nil, nil
	}

	if commits, ok, err := s.historyByDepth(projectID, tips); err != nil {
		return nil, err
	} else if ok {
		return commits, nil
	}

	commits, err := s.historyByTraversal(tips)
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// historyByDepth is the fast path: a single bounded scan of the depth
// index. Returns ok=false when any tip lacks a depth or the scan misses
// a tip (stale index, backfill in progress), in which case the caller
// must fall back to traversal.
func (s *Store) historyByDepth(projectID string, tips []*Commit) ([]*Commit, bool, error) {
	maxDepth := int64(-1)
	for _, tip := range tips {
		if tip.Depth == nil {
			return nil, false, nil
		}
		if *tip.Depth > maxDepth {
			maxDepth = *tip.Depth
		}
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("cdepth:%s:", projectID))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			sep := strings.IndexByte(rest, ':')
			if sep < 0 {
				continue
			}
			depth, err := strconv.ParseInt(rest[:sep], 10, 64)
			if err != nil {
				continue
			}
			if depth > maxDepth {
				break // keys are depth-ordered
			}
			ids = append(ids, rest[sep+1:])
		}
		return nil
	})
	if err != nil {
		return nil, false, errs.Storage("scanning depth index", err)
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, tip := range tips {
		if !seen[tip.ID] {
			return nil, false, nil // index incomplete for this query
		}
	}

	commits := make([]*Commit, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(id)
		if err != nil {
			return nil, false, err
		}
		commits = append(commits, c)
	}

	// The result must be parent-closed: a commit whose parent is absent
	// means the chain leaves this project's index (fork ancestry lives
	// under the source project) or the index is stale. Either way only
	// the traversal can answer correctly.
	for _, c := range commits {
		if c.ParentID != "" && !seen[c.ParentID] {
			return nil, false, nil
		}
	}

	sortNewestFirst(commits)
	return commits, true, nil
}

// historyByTraversal walks parent pointers breadth-first from all tips.
// The visited set keeps the walk terminating even on corrupted data with
// a parent cycle.
func (s *Store) historyByTraversal(tips []*Commit) ([]*Commit, error) {
	visited := make(map[string]*Commit)
	queue := make([]string, 0, len(tips))
	for _, tip := range tips {
		if _, ok := visited[tip.ID]; ok {
			continue
		}
		visited[tip.ID] = tip
		queue = append(queue, tip.ID)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		parentID := visited[id].ParentID
		if parentID == "" {
			continue // reached a root
		}
		if _, ok := visited[parentID]; ok {
			continue
		}
		parent, err := s.Get(parentID)
		if err != nil {
			return nil, err
		}
		visited[parentID] = parent
		queue = append(queue, parentID)
	}

	commits := make([]*Commit, 0, len(visited))
	for _, c := range visited {
		commits = append(commits, c)
	}
	sortNewestFirst(commits)
	return commits, nil
}

func sortNewestFirst(commits []*Commit) {
	sort.Slice(commits, func(i, j int) bool {
		if !commits[i].CreatedAt.Equal(commits[j].CreatedAt) {
			return commits[i].CreatedAt.After(commits[j].CreatedAt)
		}
		return commits[i].ID < commits[j].ID
	})
}

// ResolveDepth computes and persists the depth of a commit, reusing the
// caller-supplied memo across sibling calls in the same batch. It only
// ever fills depths that are still null; a depth written concurrently by
// a live commit wins.
func (s *Store) ResolveDepth(commitID string, memo map[string]int64) (int64, error) {
	if memo == nil {
		memo = make(map[string]int64)
	}
	if d, ok := memo[commitID]; ok {
		return d, nil
	}

	// Walk up the parent chain collecting unresolved nodes until a known
	// depth or a root. Iterative on purpose: a deep chain must not blow
	// the stack, and a corrupted cycle must be detected, not hung on.
	var chain []string
	onChain := make(map[string]bool)
	base := int64(-1)

	cur := commitID
	for {
		if d, ok := memo[cur]; ok {
			base = d
			break
		}
		if onChain[cur] {
			return 0, errs.Storage(fmt.Sprintf("parent cycle detected at commit %s", cur), nil)
		}
		c, err := s.Get(cur)
		if err != nil {
			return 0, err
		}
		if c.Depth != nil {
			memo[cur] = *c.Depth
			base = *c.Depth
			break
		}
		chain = append(chain, cur)
		onChain[cur] = true
		if c.ParentID == "" {
			break // chain ends at an unresolved root, depth 0
		}
		cur = c.ParentID
	}

	// Unwind: assign depths from the deepest unresolved node back to the
	// requested commit, persisting each.
	depth := base
	for i := len(chain) - 1; i >= 0; i-- {
		depth++
		persisted, err := s.fillDepth(chain[i], depth)
		if err != nil {
			return 0, err
		}
		depth = persisted
		memo[chain[i]] = depth
	}

	if d, ok := memo[commitID]; ok {
		return d, nil
	}
	return depth, nil
}

// fillDepth writes a commit's depth if it is still null, returning the
// authoritative value either way.
func (s *Store) fillDepth(commitID string, depth int64) (int64, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		result := depth
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(commitKey(commitID))
			if err != nil {
				return err
			}
			var c Commit
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			if c.Depth != nil {
				result = *c.Depth // someone else filled it; keep theirs
				return nil
			}
			c.Depth = &depth
			data, err := json.Marshal(&c)
			if err != nil {
				return err
			}
			if err := txn.Set(commitKey(commitID), data); err != nil {
				return err
			}
			return txn.Set(depthKey(c.ProjectID, depth, c.ID), nil)
		})
		if err == badger.ErrConflict {
			continue
		}
		if err == badger.ErrKeyNotFound {
			return 0, errs.NotFound(fmt.Sprintf("commit not found: %s", commitID))
		}
		if err != nil {
			return 0, errs.Storage("persisting depth", err)
		}
		return result, nil
	}
	return 0, errs.Conflict(fmt.Sprintf("persisting depth for %s", commitID))
}

// MissingDepths returns ids of commits whose depth is still null, up to
// limit (0 means no limit). Used by the backfill job.
func (s *Store) MissingDepths(limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("commit:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c Commit
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if c.Depth == nil {
				ids = append(ids, c.ID)
				if limit > 0 && len(ids) >= limit {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("scanning for missing depths", err)
	}
	return ids, nil
}
