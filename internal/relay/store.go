// ABOUTME: Staged audio store backing the receiver fetch endpoint
// ABOUTME: Writes payloads to temp files and evicts them by age and count
package relay

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultTTL       = 10 * time.Minute
	DefaultMaxStaged = 64
)

var (
	ErrStorage  = errors.New("failed to stage audio")
	ErrNotFound = errors.New("staged audio not found")
)

// Staged is one audio payload made fetchable by name
type Staged struct {
	Name        string
	Path        string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// StoreConfig holds staged store configuration
type StoreConfig struct {
	// Dir holds staged files; empty means a fresh directory under os.TempDir
	Dir       string
	TTL       time.Duration
	MaxStaged int
	Logger    *log.Logger
}

// Store maps names to staged files. Entries are registered before Stage
// returns, so a name is always resolvable by the time anyone can know it.
type Store struct {
	dir     string
	ownsDir bool
	logger  *log.Logger

	table *expirable.LRU[string, Staged]

	// mu is never held while calling into table; evictions take it with the
	// table locked
	mu sync.Mutex
	// pinned outlives eviction until released or replaced
	pinned Staged

	closeOnce sync.Once
}

// NewStore creates the stage directory and an empty table
func NewStore(config StoreConfig) (*Store, error) {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.MaxStaged <= 0 {
		config.MaxStaged = DefaultMaxStaged
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	s := &Store{logger: config.Logger}

	if config.Dir == "" {
		dir, err := os.MkdirTemp("", "cast-relay-")
		if err != nil {
			return nil, fmt.Errorf("failed to create stage directory: %w", err)
		}
		s.dir = dir
		s.ownsDir = true
	} else {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create stage directory: %w", err)
		}
		s.dir = config.Dir
	}

	// The LRU's expiry goroutine has no stop hook and outlives Close
	s.table = expirable.NewLRU[string, Staged](config.MaxStaged, s.evicted, config.TTL)
	return s, nil
}

// Dir returns the stage directory
func (s *Store) Dir() string {
	return s.dir
}

// Stage copies r into a new temp file and registers it
func (s *Store) Stage(r io.Reader, contentType string) (Staged, error) {
	f, err := os.CreateTemp(s.dir, "cast-*"+extensionFor(contentType))
	if err != nil {
		return Staged{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	size, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return Staged{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	staged := Staged{
		Name:        filepath.Base(f.Name()),
		Path:        f.Name(),
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now(),
	}
	s.table.Add(staged.Name, staged)

	s.logger.Debug("Staged audio", "name", staged.Name, "size", humanize.Bytes(uint64(size)), "type", contentType)
	return staged, nil
}

// Lookup returns the staged entry for name
func (s *Store) Lookup(name string) (Staged, error) {
	if !validName(name) {
		return Staged{}, ErrNotFound
	}
	if staged, ok := s.table.Get(name); ok {
		return staged, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned.Name == name {
		return s.pinned, nil
	}
	return Staged{}, ErrNotFound
}

// Pin keeps name resolvable past its TTL and capacity eviction until it is
// released or another name is pinned. An empty or unknown name unpins.
func (s *Store) Pin(name string) {
	staged, ok := s.table.Get(name)

	s.mu.Lock()
	prev := s.pinned
	if ok {
		s.pinned = staged
	} else {
		s.pinned = Staged{}
	}
	s.mu.Unlock()

	// A previous pin that was already evicted has nobody left to remove it
	if prev.Name != "" && prev.Name != staged.Name && !s.table.Contains(prev.Name) {
		s.remove(prev)
	}
}

// Open returns a reader for a staged resource. The caller closes the file.
func (s *Store) Open(name string) (*os.File, Staged, error) {
	staged, err := s.Lookup(name)
	if err != nil {
		return nil, Staged{}, err
	}

	f, err := os.Open(staged.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Staged{}, ErrNotFound
		}
		return nil, Staged{}, fmt.Errorf("failed to open staged audio: %w", err)
	}
	return f, staged, nil
}

// Release removes a staged resource and its file
func (s *Store) Release(name string) bool {
	s.mu.Lock()
	pinned := s.pinned
	if pinned.Name == name {
		s.pinned = Staged{}
	}
	s.mu.Unlock()

	if s.table.Remove(name) {
		return true
	}
	if pinned.Name != "" && pinned.Name == name {
		s.remove(pinned)
		return true
	}
	return false
}

// Len returns the number of staged resources
func (s *Store) Len() int {
	n := s.table.Len()
	if pinned := s.pinnedName(); pinned != "" && !s.table.Contains(pinned) {
		n++
	}
	return n
}

// Names returns the staged names, oldest first
func (s *Store) Names() []string {
	values := s.table.Values()
	s.mu.Lock()
	pinned := s.pinned
	s.mu.Unlock()
	if pinned.Name != "" && !slices.ContainsFunc(values, func(v Staged) bool { return v.Name == pinned.Name }) {
		values = append(values, pinned)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].CreatedAt.Before(values[j].CreatedAt) })

	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.Name
	}
	return names
}

// Close removes every staged file
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		pinned := s.pinned
		s.pinned = Staged{}
		s.mu.Unlock()

		s.table.Purge()
		if pinned.Name != "" {
			s.remove(pinned)
		}
		if s.ownsDir {
			err = os.RemoveAll(s.dir)
		}
	})
	return err
}

func (s *Store) pinnedName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned.Name
}

func (s *Store) evicted(name string, staged Staged) {
	s.mu.Lock()
	pinned := s.pinned.Name == name
	s.mu.Unlock()
	if pinned {
		s.logger.Debug("Keeping pinned audio past eviction", "name", name)
		return
	}
	s.remove(staged)
}

func (s *Store) remove(staged Staged) {
	if err := os.Remove(staged.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove staged audio", "name", staged.Name, "err", err)
		return
	}
	s.logger.Debug("Released staged audio", "name", staged.Name)
}

var audioExtensions = map[string]string{
	"audio/wav":   ".wav",
	"audio/wave":  ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/webm":  ".webm",
	"audio/mp4":   ".m4a",
	"audio/aac":   ".aac",
	"audio/flac":  ".flac",
}

// extensionFor picks a file suffix so receivers that sniff names see a sane one
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := audioExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// validName rejects anything that could not have come from Stage
func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}
