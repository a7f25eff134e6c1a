package artifact

import "github.com/hupe1980/agentctx/core"

// FromEvents indexes the artifact_ref events of a session into a catalog.
// Each ref is saved as a version of its artifact in event order; refs
// without a version are numbered.
func FromEvents(events []core.Event) *InMemoryStore {
	s := NewInMemoryStore()
	for _, e := range events {
		ref, ok := e.(core.ArtifactRef)
		if !ok || ref.ArtifactName == "" {
			continue
		}
		_, _ = s.Save(ref.SessionID, Artifact{
			Name:      ref.ArtifactName,
			Version:   ref.ArtifactVersion,
			Summary:   ref.Content,
			Ephemeral: ref.Ephemeral,
			CreatedAt: ref.Timestamp,
		})
	}
	return s
}
