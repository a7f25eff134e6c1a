// Package model adapts compiled working contexts to language model
// providers and builds model backed summarizers for compaction.
//
// Flatten produces a provider neutral chat message list (system
// instructions first, then the conversation, tool calls JSON encoded). The
// openai and anthropic subpackages convert a working context to their SDK's
// request types and implement Completer, which NewSummarizer turns into a
// core.Summarizer. PreviewSummarizer summarizes without a model.
package model
