package fork

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attic/internal/branch"
	"attic/internal/commit"
	errs "attic/internal/errors"
)

func setupTest(t *testing.T) (*Engine, *commit.Store, *branch.Store, *badger.DB) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	branches := branch.NewStore(db)
	commits := commit.NewStore(db, branches)
	return NewEngine(branches), commits, branches, db
}

func countKeys(t *testing.T, db *badger.DB, prefix string) int {
	t.Helper()
	count := 0
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func seedProject(t *testing.T, commits *commit.Store) {
	t.Helper()
	for _, c := range []struct{ branch, blob, msg string }{
		{"main", "h1", "init"},
		{"main", "h2", "edit"},
		{"sketch", "h3", "experiment"},
	} {
		_, err := commits.Create(commit.CreateRequest{
			ProjectID: "src",
			Branch:    c.branch,
			BlobHash:  c.blob,
			AuthorID:  "alice",
			Message:   c.msg,
		})
		require.NoError(t, err)
	}
}

func TestFork(t *testing.T) {
	t.Run("default branch mode copies one pointer", func(t *testing.T) {
		engine, commits, branches, db := setupTest(t)
		seedProject(t, commits)

		srcMain, err := branches.Get("src", "main")
		require.NoError(t, err)

		commitsBefore := countKeys(t, db, "commit:")

		created, err := engine.Fork(Request{
			SourceProjectID: "src",
			TargetProjectID: "dst",
			Mode:            ModeDefaultBranch,
			DefaultBranch:   "main",
			CreatorID:       "bob",
		})
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "dst", created[0].ProjectID)
		assert.Equal(t, "main", created[0].Name)
		assert.Equal(t, srcMain.LatestCommitID, created[0].LatestCommitID)
		assert.Equal(t, "bob", created[0].CreatorID)

		// Pointer copy only: no commit rows were written.
		assert.Equal(t, commitsBefore, countKeys(t, db, "commit:"))

		// The copy is live in the directory, not just the return value.
		dstMain, err := branches.Get("dst", "main")
		require.NoError(t, err)
		assert.Equal(t, srcMain.LatestCommitID, dstMain.LatestCommitID)
	})

	t.Run("all branches mode copies the whole directory", func(t *testing.T) {
		engine, commits, branches, _ := setupTest(t)
		seedProject(t, commits)

		created, err := engine.Fork(Request{
			SourceProjectID: "src",
			TargetProjectID: "dst",
			Mode:            ModeAllBranches,
			CreatorID:       "bob",
		})
		require.NoError(t, err)
		assert.Len(t, created, 2)

		names := map[string]bool{}
		for _, br := range created {
			names[br.Name] = true
		}
		assert.True(t, names["main"])
		assert.True(t, names["sketch"])

		listed, err := branches.List("dst")
		require.NoError(t, err)
		assert.Len(t, listed, 2)
	})

	t.Run("duplicate branch in target", func(t *testing.T) {
		engine, commits, branches, _ := setupTest(t)
		seedProject(t, commits)

		_, err := branches.Ensure("dst", "main", "bob")
		require.NoError(t, err)

		_, err = engine.Fork(Request{
			SourceProjectID: "src",
			TargetProjectID: "dst",
			Mode:            ModeDefaultBranch,
			DefaultBranch:   "main",
			CreatorID:       "bob",
		})
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeDuplicateBranch))
	})

	t.Run("missing source branch", func(t *testing.T) {
		engine, _, _, _ := setupTest(t)

		_, err := engine.Fork(Request{
			SourceProjectID: "src",
			TargetProjectID: "dst",
			Mode:            ModeDefaultBranch,
			DefaultBranch:   "main",
			CreatorID:       "bob",
		})
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeNotFound))
	})

	t.Run("first commit after fork diverges from shared history", func(t *testing.T) {
		engine, commits, branches, _ := setupTest(t)
		seedProject(t, commits)

		_, err := engine.Fork(Request{
			SourceProjectID: "src",
			TargetProjectID: "dst",
			Mode:            ModeDefaultBranch,
			DefaultBranch:   "main",
			CreatorID:       "bob",
		})
		require.NoError(t, err)

		srcMain, err := branches.Get("src", "main")
		require.NoError(t, err)

		c, err := commits.Create(commit.CreateRequest{
			ProjectID: "dst",
			Branch:    "main",
			BlobHash:  "h9",
			AuthorID:  "bob",
			Message:   "my remix",
		})
		require.NoError(t, err)
		assert.Equal(t, srcMain.LatestCommitID, c.ParentID)
		assert.Equal(t, "dst", c.ProjectID)

		// The source branch is untouched by the fork's new commit.
		after, err := branches.Get("src", "main")
		require.NoError(t, err)
		assert.Equal(t, srcMain.LatestCommitID, after.LatestCommitID)
	})

	t.Run("validation", func(t *testing.T) {
		engine, _, _, _ := setupTest(t)

		_, err := engine.Fork(Request{SourceProjectID: "src", TargetProjectID: "src", Mode: ModeAllBranches})
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeValidation))

		_, err = engine.Fork(Request{SourceProjectID: "src", TargetProjectID: "dst", Mode: "sideways"})
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeValidation))
	})
}
