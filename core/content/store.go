// Package content implements the content-addressed object store. Every byte
// sequence is stored once under the SHA-256 of its bytes, no matter how many
// resources reference it.
package content

import (
	"bytes"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

const (
	defaultShardPrefix = 2
	defaultCacheBytes  = 64 << 20
	sidecarExt         = ".json"
)

// Options configures a Store.
type Options struct {
	// ShardPrefix is the number of leading hash characters used as a
	// subdirectory name. Bounds directory fan-out.
	ShardPrefix int

	// CacheMaxBytes bounds the in-memory read cache. Negative disables it.
	CacheMaxBytes int64

	Logger *slog.Logger
	Now    func() time.Time
}

// Store is a directory of content objects.
//
//	<root>/<hash[:ShardPrefix]>/<hash>       raw bytes
//	<root>/<hash[:ShardPrefix]>/<hash>.json  sidecar (media type, length, verified)
type Store struct {
	root        string
	shardPrefix int
	cache       *ristretto.Cache
	group       singleflight.Group
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore opens (creating if needed) a content store rooted at root.
func NewStore(root string, opts Options) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, liberrors.Wrap(liberrors.KindInvalidInput, "content.NewStore", "create root", err)
	}

	s := &Store{
		root:        root,
		shardPrefix: opts.ShardPrefix,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.shardPrefix <= 0 || s.shardPrefix >= HashLength {
		s.shardPrefix = defaultShardPrefix
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	maxCost := opts.CacheMaxBytes
	if maxCost == 0 {
		maxCost = defaultCacheBytes
	}
	if maxCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}

	return s, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Close releases the read cache.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *Store) dataPath(hash string) string {
	return filepath.Join(s.root, hash[:s.shardPrefix], hash)
}

func (s *Store) sidecarPath(hash string) string {
	return s.dataPath(hash) + sidecarExt
}

// Put stores data and returns its content address. Storing the same bytes
// again returns the same hash without rewriting anything. mediaType is sniffed
// when empty.
//
// Concurrent puts of identical bytes are coalesced so only one of them writes;
// files are written to a temporary name and renamed into place.
func (s *Store) Put(data []byte, mediaType string) (string, error) {
	hash := Hash(data)

	_, err, _ := s.group.Do(hash, func() (any, error) {
		return nil, s.putOnce(hash, data, mediaType)
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Store) putOnce(hash string, data []byte, mediaType string) error {
	if s.exists(hash) {
		s.logger.Debug("content deduplicated", "hash", hash, "bytes", len(data))
		return nil
	}

	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}

	obj := &Object{
		Hash:       hash,
		ByteLength: int64(len(data)),
		MediaType:  mediaType,
		Verified:   true,
		StoredAt:   s.now().UTC(),
	}
	sidecar, err := encodeSidecar(obj)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.dataPath(hash))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return liberrors.Wrap(liberrors.KindInvalidInput, "content.Put", "create shard", err)
	}

	// Bytes first, sidecar last: a present sidecar implies present bytes.
	if err := writeAtomic(s.dataPath(hash), data); err != nil {
		return err
	}
	if err := writeAtomic(s.sidecarPath(hash), sidecar); err != nil {
		return err
	}

	s.logger.Info("content stored", "hash", hash, "bytes", len(data), "media_type", mediaType)
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) exists(hash string) bool {
	if _, err := os.Stat(s.sidecarPath(hash)); err != nil {
		return false
	}
	_, err := os.Stat(s.dataPath(hash))
	return err == nil
}

// Get returns the bytes stored under hash. The slice belongs to the caller.
func (s *Store) Get(hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, liberrors.Newf(liberrors.KindInvalidInput, "content.Get", "malformed hash %q", hash)
	}

	if s.cache != nil {
		if v, ok := s.cache.Get(hash); ok {
			if data, ok := v.([]byte); ok {
				return bytes.Clone(data), nil
			}
		}
	}

	data, err := os.ReadFile(s.dataPath(hash))
	if os.IsNotExist(err) {
		return nil, liberrors.Newf(liberrors.KindNotFound, "content.Get", "object %s", hash)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(hash, bytes.Clone(data), int64(len(data)))
	}
	return data, nil
}

// Stat returns the metadata recorded for hash.
func (s *Store) Stat(hash string) (*Object, error) {
	if !ValidHash(hash) {
		return nil, liberrors.Newf(liberrors.KindInvalidInput, "content.Stat", "malformed hash %q", hash)
	}

	obj, err := readSidecar(s.sidecarPath(hash))
	if os.IsNotExist(err) {
		return nil, liberrors.Newf(liberrors.KindNotFound, "content.Stat", "object %s", hash)
	}
	return obj, err
}

// Verify recomputes the digest of the stored bytes and records the outcome in
// the sidecar. A mismatch, or bytes missing behind a sidecar, returns false
// with a Corrupted error. Nothing is repaired.
func (s *Store) Verify(hash string) (bool, error) {
	obj, err := s.Stat(hash)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(s.dataPath(hash))
	var verifyErr error
	switch {
	case os.IsNotExist(err):
		verifyErr = liberrors.Newf(liberrors.KindCorrupted, "content.Verify", "object %s: bytes missing", hash)
	case err != nil:
		return false, err
	case Hash(data) != hash:
		verifyErr = liberrors.Newf(liberrors.KindCorrupted, "content.Verify", "object %s: digest mismatch", hash)
	}

	obj.Verified = verifyErr == nil
	sidecar, err := encodeSidecar(obj)
	if err != nil {
		return false, err
	}
	if err := writeAtomic(s.sidecarPath(hash), sidecar); err != nil {
		return false, err
	}

	if verifyErr != nil {
		if s.cache != nil {
			s.cache.Del(hash)
		}
		s.logger.Warn("content corrupted", "hash", hash)
		return false, verifyErr
	}
	return true, nil
}

// List returns every stored object ordered by hash.
func (s *Store) List() ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), sidecarExt) {
			return nil
		}
		if !ValidHash(strings.TrimSuffix(d.Name(), sidecarExt)) {
			return nil
		}

		obj, err := readSidecar(path)
		if err != nil {
			return err
		}
		objects = append(objects, *obj)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Hash < objects[j].Hash
	})
	return objects, nil
}
