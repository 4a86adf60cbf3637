package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/formbridge/internal/config"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidKey is returned for form ids or file names that cannot be used
// as path segments.
var ErrInvalidKey = errors.New("storage: invalid key")

const (
	latestFile   = "latest.json"
	manifestFile = "manifest.json"
	versionFmt   = "20060102T150405.000Z"
)

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// backend is a flat key/value object store.
type backend interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Artifact describes one stored generation of a bridge.
type Artifact struct {
	FormID    string    `json:"form_id"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Files     []string  `json:"files"`
}

// Prefix is the key prefix holding the artifact's files.
func (a Artifact) Prefix() string { return a.FormID + "/" + a.Version }

// Storage persists generated bridge artifacts under <form id>/<version>/.
type Storage struct {
	config  config.StorageConfig
	backend backend
	now     func() time.Time
	log     *logger.Logger

	mu     sync.RWMutex
	latest map[string]Artifact
}

// New creates a Storage for the configured backend.
func New(cfg config.StorageConfig) (*Storage, error) {
	var b backend
	switch cfg.Type {
	case "s3", "aws":
		aws, err := NewAWSStorage(context.Background(), cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		b = aws
	case "local", "":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		b = localBackend{root: cfg.LocalPath}
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	return newStorage(cfg, b), nil
}

func newStorage(cfg config.StorageConfig, b backend) *Storage {
	return &Storage{
		config:  cfg,
		backend: b,
		now:     time.Now,
		log:     logger.Named("storage"),
		latest:  make(map[string]Artifact),
	}
}

// Save writes files plus a JSON manifest as a new version and moves the
// form's latest pointer to it.
func (s *Storage) Save(ctx context.Context, formID string, files map[string]string, manifest interface{}) (Artifact, error) {
	if !segmentRe.MatchString(formID) {
		return Artifact{}, fmt.Errorf("%w: form id %q", ErrInvalidKey, formID)
	}
	art := Artifact{
		FormID:    formID,
		CreatedAt: s.now().UTC(),
	}
	art.Version = art.CreatedAt.Format(versionFmt)

	names := make([]string, 0, len(files))
	for name := range files {
		if !segmentRe.MatchString(name) || name == manifestFile {
			return Artifact{}, fmt.Errorf("%w: file %q", ErrInvalidKey, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.backend.Put(ctx, art.Prefix()+"/"+name, []byte(files[name]), contentType(name)); err != nil {
			return Artifact{}, fmt.Errorf("writing %s: %w", name, err)
		}
	}
	art.Files = append(names, manifestFile)

	if manifest != nil {
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return Artifact{}, fmt.Errorf("marshaling manifest: %w", err)
		}
		if err := s.backend.Put(ctx, art.Prefix()+"/"+manifestFile, data, "application/json"); err != nil {
			return Artifact{}, fmt.Errorf("writing manifest: %w", err)
		}
	} else {
		art.Files = names
	}

	pointer, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("marshaling pointer: %w", err)
	}
	if err := s.backend.Put(ctx, formID+"/"+latestFile, pointer, "application/json"); err != nil {
		return Artifact{}, fmt.Errorf("writing latest pointer: %w", err)
	}

	s.mu.Lock()
	s.latest[formID] = art
	s.mu.Unlock()

	s.log.Info("bridge artifact stored", "form_id", formID, "version", art.Version, "files", len(art.Files))
	return art, nil
}

// Latest returns the most recent artifact for formID.
func (s *Storage) Latest(ctx context.Context, formID string) (Artifact, error) {
	if !segmentRe.MatchString(formID) {
		return Artifact{}, fmt.Errorf("%w: form id %q", ErrInvalidKey, formID)
	}
	s.mu.RLock()
	art, ok := s.latest[formID]
	s.mu.RUnlock()
	if ok {
		return art, nil
	}

	data, err := s.backend.Get(ctx, formID+"/"+latestFile)
	if err != nil {
		return Artifact{}, err
	}
	if err := json.Unmarshal(data, &art); err != nil {
		return Artifact{}, fmt.Errorf("decoding latest pointer: %w", err)
	}

	s.mu.Lock()
	s.latest[formID] = art
	s.mu.Unlock()
	return art, nil
}

// ReadFile returns one file of an artifact.
func (s *Storage) ReadFile(ctx context.Context, art Artifact, name string) ([]byte, error) {
	if !segmentRe.MatchString(name) {
		return nil, fmt.Errorf("%w: file %q", ErrInvalidKey, name)
	}
	return s.backend.Get(ctx, art.Prefix()+"/"+name)
}

// Versions lists the stored versions of formID, oldest first.
func (s *Storage) Versions(ctx context.Context, formID string) ([]string, error) {
	if !segmentRe.MatchString(formID) {
		return nil, fmt.Errorf("%w: form id %q", ErrInvalidKey, formID)
	}
	keys, err := s.backend.List(ctx, formID+"/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var versions []string
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, formID+"/"), "/")
		if len(parts) < 2 || seen[parts[0]] {
			continue
		}
		seen[parts[0]] = true
		versions = append(versions, parts[0])
	}
	sort.Strings(versions)
	return versions, nil
}

// ClearCache drops the cached latest pointers.
func (s *Storage) ClearCache() {
	s.mu.Lock()
	s.latest = make(map[string]Artifact)
	s.mu.Unlock()
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".js":
		return "application/javascript"
	case ".html":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// localBackend stores objects as files below root.
type localBackend struct {
	root string
}

func (l localBackend) Put(_ context.Context, key string, body []byte, _ string) error {
	p := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (l localBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

func (l localBackend) List(_ context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(l.root, filepath.FromSlash(prefix))
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(keys)
	return keys, err
}
