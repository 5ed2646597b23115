// internal/blob/store.go
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	errs "attic/internal/errors"
	"attic/internal/storage"
)

// Meta stores metadata about a stored payload
type Meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	CreatorID  string    `json:"creator_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *Meta) GetID() string {
	return m.Hash
}

// Store provides deduplicated, write-once content storage. Payload bytes
// live on disk keyed by their sha256; metadata lives in badger. Payloads
// are never deleted.
type Store struct {
	root  string
	meta  *storage.BadgerStore
	cache *lru.Cache[string, []byte]
	comp  *compressor
	now   func() time.Time
}

// Options configures Store behavior
type Options struct {
	Root        string // Root directory path
	CacheSize   int    // Number of payloads to cache
	CompressMin int    // Minimum payload size before compressing
}

// New creates a new blob store
func New(db *badger.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}

	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 1024
	}
	if opts.CompressMin == 0 {
		opts.CompressMin = 1024
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	comp, err := newCompressor(opts.CompressMin)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Store{
		root:  opts.Root,
		meta:  storage.NewBadgerStore(db, "blob"),
		cache: cache,
		comp:  comp,
		now:   time.Now,
	}, nil
}

// Hash returns the content address of a payload.
func Hash(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// Put stores a payload and returns its content hash. Storing the same
// payload twice is a no-op returning the same hash.
func (s *Store) Put(payload []byte, creatorID string) (string, error) {
	if payload == nil {
		payload = []byte{} // Empty payloads are valid
	}

	hash := Hash(payload)

	exists, err := s.meta.Has(hash)
	if err != nil {
		return "", errs.Storage("checking blob existence", err)
	}
	if exists {
		return hash, nil
	}

	stored := payload
	compressed := false
	if s.comp.shouldCompress(len(payload)) {
		stored = s.comp.compress(payload)
		compressed = true
	}

	// Write to a temp file first, then rename into place, so a concurrent
	// reader never observes a half-written payload.
	path := s.payloadPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errs.Storage("creating payload directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", errs.Storage("creating temp file", err)
	}
	if _, err := tmp.Write(stored); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errs.Storage("writing payload", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errs.Storage("closing payload file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", errs.Storage("publishing payload", err)
	}

	meta := &Meta{
		Hash:       hash,
		Size:       int64(len(payload)),
		Compressed: compressed,
		CreatorID:  creatorID,
		CreatedAt:  s.now(),
	}
	if _, err := s.meta.CreateIfAbsent(meta); err != nil {
		return "", errs.Storage("storing blob metadata", err)
	}

	s.cache.Add(hash, payload)
	return hash, nil
}

// Get retrieves a payload by its content hash.
func (s *Store) Get(hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, errs.NotFound(fmt.Sprintf("invalid content hash: %q", hash))
	}

	if payload, ok := s.cache.Get(hash); ok {
		return payload, nil
	}

	var meta Meta
	if err := s.meta.Get(hash, &meta); err != nil {
		return nil, errs.NotFound(fmt.Sprintf("blob not found: %s", hash))
	}

	stored, err := os.ReadFile(s.payloadPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound(fmt.Sprintf("blob not found: %s", hash))
		}
		return nil, errs.Storage("reading payload", err)
	}

	payload := stored
	if meta.Compressed {
		payload, err = s.comp.decompress(stored)
		if err != nil {
			return nil, errs.Storage("decompressing payload", err)
		}
	}

	if Hash(payload) != hash {
		return nil, errs.Storage("payload hash mismatch", nil)
	}

	s.cache.Add(hash, payload)
	return payload, nil
}

// Exists checks whether a payload with the given hash is stored.
func (s *Store) Exists(hash string) (bool, error) {
	if !ValidHash(hash) {
		return false, nil
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	exists, err := s.meta.Has(hash)
	if err != nil {
		return false, errs.Storage("checking blob existence", err)
	}
	return exists, nil
}

// Stat returns a payload's metadata without reading its bytes.
func (s *Store) Stat(hash string) (*Meta, error) {
	var meta Meta
	if err := s.meta.Get(hash, &meta); err != nil {
		return nil, errs.NotFound(fmt.Sprintf("blob not found: %s", hash))
	}
	return &meta, nil
}

// ValidHash reports whether s looks like a sha256 hex digest.
func ValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func (s *Store) payloadPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}
