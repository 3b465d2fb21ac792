// Package fs implements crash safe document storage on top of afs. Every
// entity is one document; writes go to a temporary sibling first and are
// moved into place, so a reboot mid-write leaves either the old or the new
// document, never a torn one.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/kgrader/internal/idgen"
	"github.com/viant/kgrader/service/dao"
	"github.com/viant/kgrader/service/dao/criteria"
	"gopkg.in/yaml.v3"
)

const tempMarker = ".tmp-"

// Codec encodes documents.
type Codec struct {
	Ext       string
	Marshal   func(v interface{}) ([]byte, error)
	Unmarshal func(data []byte, v interface{}) error
}

var (
	// JSON stores documents as indented JSON.
	JSON = Codec{
		Ext:       ".json",
		Marshal:   func(v interface{}) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		Unmarshal: json.Unmarshal,
	}
	// YAML stores documents as YAML; used for operator edited state.
	YAML = Codec{Ext: ".yaml", Marshal: yaml.Marshal, Unmarshal: yaml.Unmarshal}
)

// Option customises a Store.
type Option func(s *options)

type options struct {
	codec  Codec
	fs     afs.Service
	logger *slog.Logger
}

// WithCodec sets the document codec (JSON by default).
func WithCodec(codec Codec) Option {
	return func(o *options) { o.codec = codec }
}

// WithFS sets the afs service, for example one shared with other components.
func WithFS(fs afs.Service) Option {
	return func(o *options) { o.fs = fs }
}

// WithLogger sets the logger used to report skipped documents.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Store is a filesystem backed dao.Service for any document type.
type Store[T any] struct {
	basePath    string
	fs          afs.Service
	codec       Codec
	keySelector func(*T) string
	logger      *slog.Logger
	mu          sync.RWMutex
}

var _ dao.Service[string, struct{}] = (*Store[struct{}])(nil)

// Save atomically persists t under its key.
func (s *Store[T]) Save(ctx context.Context, t *T) error {
	if t == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(t)
	if err := validKey(key); err != nil {
		return err
	}
	data, err := s.codec.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := path.Dir(key); dir != "." {
		dirURL := url.Join(s.basePath, dir)
		if exists, _ := s.fs.Exists(ctx, dirURL); !exists {
			if err := s.fs.Create(ctx, dirURL, file.DefaultDirOsMode, true); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dirURL, err)
			}
		}
	}
	target := s.documentURL(key)
	temp := target + tempMarker + idgen.Short()
	if err := s.fs.Upload(ctx, temp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", temp, err)
	}
	if err := s.fs.Move(ctx, temp, target); err != nil {
		_ = s.fs.Delete(ctx, temp)
		return fmt.Errorf("failed to commit %s: %w", target, err)
	}
	return nil
}

// Load retrieves the document stored under key.
func (s *Store[T]) Load(ctx context.Context, key string) (*T, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := s.documentURL(key)
	exists, err := s.fs.Exists(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", target, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", dao.ErrNotFound, key)
	}
	data, err := s.fs.DownloadWithURL(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	return s.decode(key, data)
}

// Delete removes the document stored under key.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.documentURL(key)
	exists, err := s.fs.Exists(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", target, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", dao.ErrNotFound, key)
	}
	if err := s.fs.Delete(ctx, target); err != nil {
		return fmt.Errorf("failed to delete %s: %w", target, err)
	}
	return nil
}

// List returns all decodable documents matching parameters, ordered by key.
// Documents that fail to decode are logged and skipped.
func (s *Store[T]) List(ctx context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.basePath, err)
	}
	var result []*T
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), s.codec.Ext) {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			s.logger.Warn("skipping unreadable document", "url", object.URL(), "error", err)
			continue
		}
		item, err := s.decode(object.Name(), data)
		if err != nil {
			s.logger.Warn("skipping corrupt document", "url", object.URL(), "error", err)
			continue
		}
		if !criteria.FilterByPrefix(s.keySelector(item), parameters) {
			continue
		}
		result = append(result, item)
	}
	sort.SliceStable(result, func(i, j int) bool { return s.keySelector(result[i]) < s.keySelector(result[j]) })
	return result, nil
}

// Sweep removes temporary files left behind by writes interrupted by a crash.
func (s *Store[T]) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", s.basePath, err)
	}
	removed := 0
	for _, object := range objects {
		if object.IsDir() || !strings.Contains(object.Name(), tempMarker) {
			continue
		}
		if err := s.fs.Delete(ctx, object.URL()); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", object.URL(), err)
		}
		removed++
	}
	return removed, nil
}

// BasePath returns the normalised storage location.
func (s *Store[T]) BasePath() string { return s.basePath }

func (s *Store[T]) decode(key string, data []byte) (*T, error) {
	var ret T
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s: empty document", dao.ErrCorrupt, key)
	}
	if err := s.codec.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dao.ErrCorrupt, key, err)
	}
	return &ret, nil
}

func (s *Store[T]) documentURL(key string) string {
	return url.Join(s.basePath, key+s.codec.Ext)
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", dao.ErrInvalidID, key)
	}
	return nil
}

// New creates a document store rooted at basePath.
func New[T any](basePath string, keySelector func(*T) string, opts ...Option) (*Store[T], error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if keySelector == nil {
		return nil, errors.New("key selector cannot be nil")
	}
	o := &options{codec: JSON}
	for _, opt := range opts {
		opt(o)
	}
	if o.fs == nil {
		o.fs = afs.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	ctx := context.Background()
	if exists, _ := o.fs.Exists(ctx, basePath); !exists {
		if err := o.fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Store[T]{
		basePath:    url.Normalize(basePath, file.Scheme),
		fs:          o.fs,
		codec:       o.codec,
		keySelector: keySelector,
		logger:      o.logger,
	}, nil
}

// NewKeyed creates a store for entities that know their own key.
func NewKeyed[T any, PT interface {
	*T
	dao.Keyed
}](basePath string, opts ...Option) (*Store[T], error) {
	return New[T](basePath, func(t *T) string { return PT(t).Key() }, opts...)
}
