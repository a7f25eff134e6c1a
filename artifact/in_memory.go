package artifact

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hupe1980/agentctx/core"
)

// Artifact is one version of a named artifact.
type Artifact struct {
	Name    string
	Version string
	// Summary is what the model sees instead of Data.
	Summary   string
	Ephemeral bool
	MimeType  string
	Data      []byte
	CreatedAt time.Time
}

// Handle returns the model-facing handle of the artifact.
func (a Artifact) Handle() core.ArtifactHandle {
	return core.ArtifactHandle{Name: a.Name, Version: a.Version, Summary: a.Summary, Ephemeral: a.Ephemeral}
}

// Ref returns an artifact_ref event pointing at this artifact, ready to append.
func (a Artifact) Ref(sessionID string) core.ArtifactRef {
	return core.ArtifactRef{
		EventHeader:     core.NewHeader(sessionID),
		Content:         a.Summary,
		ArtifactName:    a.Name,
		ArtifactVersion: a.Version,
		Ephemeral:       a.Ephemeral,
	}
}

// Catalog lists the latest version of every artifact in a session.
type Catalog interface {
	List(sessionID string) ([]Artifact, error)
}

// compile-time assertion
var _ Catalog = (*InMemoryStore)(nil)

// InMemoryStore is a trivial in-process artifact catalog useful for tests,
// examples and single-process hosts. Every Save of a name adds a version;
// data is copied on save and retrieval to avoid accidental external mutation
// of internal buffers.
//
// Layout: sessionID -> name -> versions (oldest first)
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]Artifact
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]Artifact)}
}

func clone(a Artifact) Artifact {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}

// Save stores a new version of the artifact and returns it. An empty Version
// is assigned the next number ("1", "2", ...).
func (s *InMemoryStore) Save(sessionID string, a Artifact) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[sessionID]; !exists {
		s.artifacts[sessionID] = make(map[string][]Artifact)
	}
	versions := s.artifacts[sessionID][a.Name]
	a = clone(a)
	if a.Version == "" {
		a.Version = strconv.Itoa(len(versions) + 1)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = core.Now()
	}
	s.artifacts[sessionID][a.Name] = append(versions, a)
	return clone(a), nil
}

// Get returns a copy of the given version, or the latest when version is
// empty. Missing artifacts yield ErrNotFound.
func (s *InMemoryStore) Get(sessionID, name, version string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.artifacts[sessionID][name]
	if len(versions) == 0 {
		return Artifact{}, ErrNotFound
	}
	if version == "" {
		return clone(versions[len(versions)-1]), nil
	}
	for _, a := range versions {
		if a.Version == version {
			return clone(a), nil
		}
	}
	return Artifact{}, ErrNotFound
}

// List returns the latest version of each artifact ordered by name. Data is
// omitted.
func (s *InMemoryStore) List(sessionID string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.artifacts[sessionID]
	out := make([]Artifact, 0, len(m))
	for _, versions := range m {
		latest := versions[len(versions)-1]
		latest.Data = nil
		out = append(out, latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes every version of the artifact or returns ErrNotFound.
func (s *InMemoryStore) Delete(sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.artifacts[sessionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[name]; !ok {
		return ErrNotFound
	}
	delete(m, name)
	return nil
}
