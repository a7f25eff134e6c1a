// Package core provides the domain types and interfaces of the context
// compilation engine. It defines:
//
//   - Events (the closed set of sequenced, immutable session facts) and their
//     lossless storage row codec
//   - Messages (model-ready chat turns) and the event/message mappings
//   - WorkingContext (the per-turn compiled view plus cache-friendly flattening)
//   - SessionStore (event log, memory table and compaction contract)
//   - Collaborators (summarizer, retriever, structured memory, artifact resolver)
//
// Persistence, pipeline processors and model adapters live in sibling
// packages so that alternative backends only need the small interfaces here.
package core
