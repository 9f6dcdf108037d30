// Package resources maps client resource references to the versioned ids
// embedded in encoded payloads.
package resources

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

var (
	ErrResourceNotFound  = errors.New("resource not found")
	ErrDuplicateResource = errors.New("resource id already registered")
	ErrMalformedRef      = errors.New("malformed resource reference")
)

// idMask keeps generated ids inside the 53 bits a client double can hold.
const idMask = 1<<53 - 1

// Ref names a resource.
type Ref struct {
	Namespace string
	Name      string
}

func (r Ref) String() string { return r.Namespace + "/" + r.Name }

// Info is what the client needs to fetch a resource.
type Info struct {
	ID      int64
	Version int64
}

// Lookup resolves references in both directions.
type Lookup interface {
	Resolve(ref Ref) (Info, error)
	ByID(id int64) (Ref, error)
}

// IDFor derives the default id of a reference.
func IDFor(ref Ref) int64 {
	return int64(xxhash.Sum64String(ref.String()) & idMask)
}

// Static is an in-memory Lookup.
type Static struct {
	mu    sync.RWMutex
	byRef map[Ref]Info
	byID  map[int64]Ref
}

var _ Lookup = (*Static)(nil)

func NewStatic() *Static {
	return &Static{
		byRef: make(map[Ref]Info),
		byID:  make(map[int64]Ref),
	}
}

// Add registers ref. A zero info.ID is replaced by IDFor(ref).
func (s *Static) Add(ref Ref, info Info) (Info, error) {
	if info.ID == 0 {
		info.ID = IDFor(ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.byID[info.ID]; ok {
		return Info{}, fmt.Errorf("%s and %s share id %d: %w", other, ref, info.ID, ErrDuplicateResource)
	}
	if old, ok := s.byRef[ref]; ok {
		delete(s.byID, old.ID)
	}
	s.byRef[ref] = info
	s.byID[info.ID] = ref
	return info, nil
}

func (s *Static) Resolve(ref Ref) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.byRef[ref]
	if !ok {
		return Info{}, fmt.Errorf("%s: %w", ref, ErrResourceNotFound)
	}
	return info, nil
}

func (s *Static) ByID(id int64) (Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.byID[id]
	if !ok {
		return Ref{}, fmt.Errorf("id %d: %w", id, ErrResourceNotFound)
	}
	return ref, nil
}

// Refs lists registered references sorted by namespace and name.
func (s *Static) Refs() []Ref {
	s.mu.RLock()
	out := make([]Ref, 0, len(s.byRef))
	for ref := range s.byRef {
		out = append(out, ref)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byRef)
}

// File is the YAML layout of a resource list.
type File struct {
	Resources []Entry `yaml:"resources"`
}

type Entry struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	ID        int64  `yaml:"id,omitempty"`
	Version   int64  `yaml:"version,omitempty"`
}

// Load reads a YAML resource list.
func Load(r io.Reader) (*Static, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode resources: %w", err)
	}
	s := NewStatic()
	for i, e := range f.Resources {
		if e.Namespace == "" || e.Name == "" {
			return nil, fmt.Errorf("resource %d: namespace and name are required", i)
		}
		if _, err := s.Add(Ref{Namespace: e.Namespace, Name: e.Name}, Info{ID: e.ID, Version: e.Version}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadFile is Load for a path.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// ParseRef reads the "namespace/name" form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" {
		return Ref{}, fmt.Errorf("resource reference %q: %w", s, ErrMalformedRef)
	}
	return Ref{Namespace: ns, Name: name}, nil
}
