package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attic/internal/blob"
	"attic/internal/branch"
	"attic/internal/capability"
	"attic/internal/commit"
	"attic/internal/fork"
)

// DenyAll refuses every request; used to exercise the permission branch.
type DenyAll struct{}

func (DenyAll) CanRead(projectID, userID string) bool  { return false }
func (DenyAll) CanWrite(projectID, userID string) bool { return false }

type testEnv struct {
	blobs    *blob.Store
	branches *branch.Store
	commits  *commit.Store
	caps     *capability.Issuer
}

func setupTestEnv(t *testing.T) *testEnv {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.New(db, blob.Options{Root: t.TempDir()})
	require.NoError(t, err)

	branches := branch.NewStore(db)
	return &testEnv{
		blobs:    blobs,
		branches: branches,
		commits:  commit.NewStore(db, branches),
		caps:     capability.NewIssuer(capability.StaticKey("handler-test-key"), time.Minute),
	}
}

func TestBlobHandler_Put(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewBlobHandler(env.blobs, env.caps, AllowAll{})

	tests := []struct {
		name       string
		user       string
		body       map[string]string
		wantStatus int
	}{
		{
			name:       "valid payload",
			user:       "alice",
			body:       map[string]string{"project_id": "p1", "content": "circle(50, 50, 10);"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing user header",
			user:       "",
			body:       map[string]string{"project_id": "p1", "content": "x"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.body)
			require.NoError(t, err)

			req := httptest.NewRequest("POST", "/api/blobs", bytes.NewBuffer(body))
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			rec := httptest.NewRecorder()

			handler.Put(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusCreated {
				var resp struct {
					Hash string `json:"hash"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, blob.Hash([]byte(tt.body["content"])), resp.Hash)
			}
		})
	}
}

func TestBlobHandler_Get(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewBlobHandler(env.blobs, env.caps, AllowAll{})

	payload := []byte("rect(10, 10, 80, 80);")
	hash, err := env.blobs.Put(payload, "alice")
	require.NoError(t, err)

	token, err := env.caps.Issue(hash, "alice")
	require.NoError(t, err)
	otherToken, err := env.caps.Issue(blob.Hash([]byte("other")), "alice")
	require.NoError(t, err)

	tests := []struct {
		name       string
		user       string
		token      string
		wantStatus int
	}{
		{
			name:       "valid capability",
			user:       "alice",
			token:      token,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong subject",
			user:       "mallory",
			token:      token,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "capability for a different hash",
			user:       "alice",
			token:      otherToken,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing token",
			user:       "alice",
			token:      "",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", fmt.Sprintf("/api/blobs/%s?token=%s", hash, tt.token), nil)
			req.SetPathValue("hash", hash)
			req.Header.Set("X-User-ID", tt.user)
			rec := httptest.NewRecorder()

			handler.Get(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, payload, rec.Body.Bytes())
			}
		})
	}
}

func TestCommitHandler_Create(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewCommitHandler(env.commits, env.caps, AllowAll{})

	tests := []struct {
		name       string
		input      map[string]interface{}
		wantStatus int
	}{
		{
			name: "valid commit",
			input: map[string]interface{}{
				"branch":    "main",
				"blob_hash": "a1b2c3",
				"message":   "initial sketch",
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "missing message",
			input: map[string]interface{}{
				"branch":    "main",
				"blob_hash": "a1b2c3",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing parent",
			input: map[string]interface{}{
				"branch":    "main",
				"blob_hash": "a1b2c3",
				"message":   "orphan",
				"parent_id": "deadbeef",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.input)
			require.NoError(t, err)

			req := httptest.NewRequest("POST", "/api/projects/p1/commits", bytes.NewBuffer(body))
			req.SetPathValue("id", "p1")
			req.Header.Set("X-User-ID", "alice")
			rec := httptest.NewRecorder()

			handler.Create(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusCreated {
				var created commit.Commit
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
				assert.NotEmpty(t, created.ID)
				assert.Equal(t, "p1", created.ProjectID)
				assert.Equal(t, "alice", created.AuthorID)
			}
		})
	}
}

func TestCommitHandler_Get(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewCommitHandler(env.commits, env.caps, AllowAll{})

	payload := []byte("noStroke();")
	hash, err := env.blobs.Put(payload, "alice")
	require.NoError(t, err)

	c, err := env.commits.Create(commit.CreateRequest{
		ProjectID: "p1",
		Branch:    "main",
		BlobHash:  hash,
		AuthorID:  "alice",
		Message:   "init",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", fmt.Sprintf("/api/projects/p1/commits/%s", c.ID), nil)
	req.SetPathValue("id", "p1")
	req.SetPathValue("commit_id", c.ID)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	handler.Get(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Commit    *commit.Commit `json:"commit"`
		BlobToken string         `json:"blob_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, c.ID, resp.Commit.ID)
	require.NotEmpty(t, resp.BlobToken)

	// The minted capability actually redeems for the commit's blob.
	granted, err := env.caps.Verify(resp.BlobToken, "alice")
	require.NoError(t, err)
	assert.Equal(t, hash, granted)
}

func TestCommitHandler_History(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewCommitHandler(env.commits, env.caps, AllowAll{})

	var chain []*commit.Commit
	for i := 0; i < 3; i++ {
		c, err := env.commits.Create(commit.CreateRequest{
			ProjectID: "p1",
			Branch:    "main",
			BlobHash:  fmt.Sprintf("h%d", i),
			AuthorID:  "alice",
			Message:   fmt.Sprintf("rev %d", i),
		})
		require.NoError(t, err)
		chain = append(chain, c)
	}

	req := httptest.NewRequest("GET", "/api/projects/p1/history?branches=main", nil)
	req.SetPathValue("id", "p1")
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	handler.History(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*commit.Commit
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 3)
	assert.Equal(t, chain[2].ID, got[0].ID)
	assert.Equal(t, chain[0].ID, got[2].ID)
}

func TestForkHandler(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewForkHandler(fork.NewEngine(env.branches), AllowAll{})

	_, err := env.commits.Create(commit.CreateRequest{
		ProjectID: "src",
		Branch:    "main",
		BlobHash:  "h1",
		AuthorID:  "alice",
		Message:   "init",
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"target_project_id": "dst",
		"mode":              "default_branch",
		"default_branch":    "main",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/projects/src/fork", bytes.NewBuffer(body))
	req.SetPathValue("id", "src")
	req.Header.Set("X-User-ID", "bob")
	rec := httptest.NewRecorder()

	handler.Fork(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created []*branch.Branch
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Len(t, created, 1)
	assert.Equal(t, "dst", created[0].ProjectID)

	srcMain, err := env.branches.Get("src", "main")
	require.NoError(t, err)
	assert.Equal(t, srcMain.LatestCommitID, created[0].LatestCommitID)
}

func TestPermissionDenied(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("commit create", func(t *testing.T) {
		handler := NewCommitHandler(env.commits, env.caps, DenyAll{})

		body, _ := json.Marshal(map[string]string{"branch": "main", "blob_hash": "h1", "message": "nope"})
		req := httptest.NewRequest("POST", "/api/projects/p1/commits", bytes.NewBuffer(body))
		req.SetPathValue("id", "p1")
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()

		handler.Create(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("history", func(t *testing.T) {
		handler := NewCommitHandler(env.commits, env.caps, DenyAll{})

		req := httptest.NewRequest("GET", "/api/projects/p1/history?branches=main", nil)
		req.SetPathValue("id", "p1")
		req.Header.Set("X-User-ID", "alice")
		rec := httptest.NewRecorder()

		handler.History(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
