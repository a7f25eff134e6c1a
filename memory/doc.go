// Package memory contains retrieval collaborators built on a session store's
// memory table. Retriever implements core.MemoryRetriever with keyword
// ranking; FactsProvider implements core.StructuredMemoryProvider and
// core.SnippetConverter over key/value facts.
//
// Both depend only on core.MemoryTable, so any session backend can feed them.
// Semantic or vector retrieval can be plugged in by implementing
// core.MemoryRetriever directly.
package memory
