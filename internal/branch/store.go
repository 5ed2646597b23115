// internal/branch/store.go
package branch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	errs "attic/internal/errors"
)

// Store is the badger-backed branch directory. Pointer mutation goes
// through conditional updates only; the branch row is the single source
// of truth for a branch's tip.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

func NewStore(db *badger.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

func key(projectID, name string) []byte {
	return []byte(fmt.Sprintf("branch:%s:%s", projectID, name))
}

func validate(projectID, name string) error {
	if projectID == "" {
		return errs.ValidationError("project id is required", nil)
	}
	if name == "" {
		return errs.ValidationError("branch name is required", nil)
	}
	return nil
}

// Ensure returns the named branch, creating it with an empty tip if it
// does not exist. Concurrent callers racing on the same name all succeed
// and observe a single row.
func (s *Store) Ensure(projectID, name, creatorID string) (*Branch, error) {
	if err := validate(projectID, name); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		var br Branch
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key(projectID, name))
			if err == nil {
				return item.Value(func(val []byte) error {
					return json.Unmarshal(val, &br)
				})
			}
			if err != badger.ErrKeyNotFound {
				return err
			}

			now := s.now()
			br = Branch{
				ProjectID: projectID,
				Name:      name,
				CreatorID: creatorID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			data, err := json.Marshal(&br)
			if err != nil {
				return err
			}
			return txn.Set(key(projectID, name), data)
		})
		if err == badger.ErrConflict {
			// Lost the creation race; re-read the winner's row.
			continue
		}
		if err != nil {
			return nil, errs.Storage("ensuring branch", err)
		}
		return &br, nil
	}
	return s.Get(projectID, name)
}

// Create writes a new branch row with a preset tip, failing if the name
// already exists under the project. Used by the fork engine.
func (s *Store) Create(br *Branch) error {
	if err := validate(br.ProjectID, br.Name); err != nil {
		return err
	}

	now := s.now()
	if br.CreatedAt.IsZero() {
		br.CreatedAt = now
	}
	br.UpdatedAt = now

	data, err := json.Marshal(br)
	if err != nil {
		return errs.Storage("marshaling branch", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(br.ProjectID, br.Name))
		if err == nil {
			return errs.DuplicateBranch(fmt.Sprintf("branch already exists: %s/%s", br.ProjectID, br.Name))
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key(br.ProjectID, br.Name), data)
	})
	if err == badger.ErrConflict {
		return errs.DuplicateBranch(fmt.Sprintf("branch already exists: %s/%s", br.ProjectID, br.Name))
	}
	if err != nil {
		if errs.IsType(err, errs.ErrorTypeDuplicateBranch) {
			return err
		}
		return errs.Storage("creating branch", err)
	}
	return nil
}

// Get retrieves a branch by project and name.
func (s *Store) Get(projectID, name string) (*Branch, error) {
	if err := validate(projectID, name); err != nil {
		return nil, err
	}

	var br Branch
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(projectID, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &br)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errs.NotFound(fmt.Sprintf("branch not found: %s/%s", projectID, name))
	}
	if err != nil {
		return nil, errs.Storage("getting branch", err)
	}
	return &br, nil
}

// List returns all branches of a project.
func (s *Store) List(projectID string) ([]*Branch, error) {
	if projectID == "" {
		return nil, errs.ValidationError("project id is required", nil)
	}

	var branches []*Branch
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("branch:%s:", projectID))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var br Branch
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &br)
			})
			if err != nil {
				return err
			}
			branches = append(branches, &br)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("listing branches", err)
	}
	return branches, nil
}

// SetProtected flips the branch's protection flag.
func (s *Store) SetProtected(projectID, name string, protected bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(projectID, name))
		if err != nil {
			return err
		}
		var br Branch
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &br)
		}); err != nil {
			return err
		}
		br.Protected = protected
		br.UpdatedAt = s.now()
		data, err := json.Marshal(&br)
		if err != nil {
			return err
		}
		return txn.Set(key(projectID, name), data)
	})
	if err == badger.ErrKeyNotFound {
		return errs.NotFound(fmt.Sprintf("branch not found: %s/%s", projectID, name))
	}
	if err != nil {
		return errs.Storage("updating branch protection", err)
	}
	return nil
}

// Advance swings the branch tip from expectedTip to newTip. Returns a
// Conflict error when another writer already moved the tip.
func (s *Store) Advance(projectID, name, expectedTip, newTip string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return s.AdvanceTxn(txn, projectID, name, expectedTip, newTip)
	})
	if err == badger.ErrConflict {
		return errs.Conflict(fmt.Sprintf("branch tip moved: %s/%s", projectID, name))
	}
	return err
}

// AdvanceTxn performs the conditional tip swing inside a caller-owned
// transaction so the commit write and the pointer update land atomically.
func (s *Store) AdvanceTxn(txn *badger.Txn, projectID, name, expectedTip, newTip string) error {
	item, err := txn.Get(key(projectID, name))
	if err == badger.ErrKeyNotFound {
		return errs.NotFound(fmt.Sprintf("branch not found: %s/%s", projectID, name))
	}
	if err != nil {
		return errs.Storage("reading branch", err)
	}

	var br Branch
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &br)
	}); err != nil {
		return errs.Storage("decoding branch", err)
	}

	if br.LatestCommitID != expectedTip {
		return errs.Conflict(fmt.Sprintf("branch tip moved: %s/%s", projectID, name))
	}

	br.LatestCommitID = newTip
	br.UpdatedAt = s.now()

	data, err := json.Marshal(&br)
	if err != nil {
		return errs.Storage("marshaling branch", err)
	}
	return txn.Set(key(projectID, name), data)
}
