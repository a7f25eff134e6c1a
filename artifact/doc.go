// Package artifact keeps a per-session catalog of artifacts (files, reports,
// tool outputs too large for the conversation) and resolves which of them the
// model should be told about on a given turn.
//
// InMemoryStore is the catalog; Resolver implements core.ArtifactResolver on
// top of any Catalog so the compile pipeline can inject artifact handles
// without loading artifact bodies.
package artifact
