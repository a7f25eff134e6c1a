package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StoredEvent is the flat row layout events are persisted with. Variant
// specific fields live in the Metadata JSON object; absent optional fields are
// omitted from it rather than written as null.
type StoredEvent struct {
	ID        string
	SessionID string
	Seq       int64
	Action    string
	Content   *string
	Metadata  *string
	CreatedAt int64 // unix milliseconds
}

// Metadata blob keys. They are part of the persisted layout.
const (
	metaMessageMetadata  = "messageMetadata"
	metaModel            = "model"
	metaToolCalls        = "toolCalls"
	metaToolCallID       = "toolCallId"
	metaToolName         = "toolName"
	metaOutput           = "output"
	metaStable           = "stable"
	metaReplacesSeqRange = "replacesSeqRange"
	metaMetadata         = "metadata"
	metaSource           = "source"
	metaScore            = "score"
	metaArtifactName     = "artifactName"
	metaArtifactVersion  = "artifactVersion"
	metaEphemeral        = "ephemeral"
	metaFromAgent        = "fromAgent"
	metaToAgent          = "toAgent"
)

// metaWriter accumulates a metadata object, skipping absent values.
type metaWriter struct {
	doc string
	err error
}

func (w *metaWriter) set(key string, value any) {
	if w.err != nil {
		return
	}
	doc, err := sjson.Set(w.doc, key, value)
	if err != nil {
		w.err = fmt.Errorf("encode %s: %w", key, err)
		return
	}
	w.doc = doc
}

func (w *metaWriter) setString(key, value string) {
	if value != "" {
		w.set(key, value)
	}
}

func (w *metaWriter) setMap(key string, value map[string]any) {
	if value != nil {
		w.set(key, value)
	}
}

func (w *metaWriter) result() (*string, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.doc == "" {
		return nil, nil
	}
	return &w.doc, nil
}

// Dehydrate flattens an event into its storage row.
func Dehydrate(e Event) (StoredEvent, error) {
	h := e.Header()
	row := StoredEvent{
		ID:        h.ID,
		SessionID: h.SessionID,
		Seq:       h.Seq,
		Action:    string(e.Action()),
		CreatedAt: h.Timestamp.UnixMilli(),
	}

	var w metaWriter
	switch ev := e.(type) {
	case UserMessage:
		row.Content = &ev.Content
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case AgentMessage:
		row.Content = &ev.Content
		w.setString(metaModel, ev.Model)
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case ToolCallRequest:
		row.Content = optionalContent(ev.Content)
		calls := ev.ToolCalls
		if calls == nil {
			calls = []ToolCall{}
		}
		w.set(metaToolCalls, calls)
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case ToolResult:
		row.Content = optionalContent(ev.Content)
		w.set(metaToolCallID, ev.ToolCallID)
		w.set(metaToolName, ev.ToolName)
		if ev.Output != nil {
			w.set(metaOutput, ev.Output)
		}
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case SystemInstruction:
		row.Content = &ev.Content
		w.set(metaStable, ev.Stable)
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case Compaction:
		row.Content = &ev.Content
		if ev.ReplacesSeqRange != nil {
			w.set(metaReplacesSeqRange, []int64{ev.ReplacesSeqRange[0], ev.ReplacesSeqRange[1]})
		}
		w.setMap(metaMetadata, ev.Metadata)
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case MemorySnippet:
		row.Content = &ev.Content
		w.setString(metaSource, ev.Source)
		if ev.Score != nil {
			w.set(metaScore, *ev.Score)
		}
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case ArtifactRef:
		row.Content = &ev.Content
		w.set(metaArtifactName, ev.ArtifactName)
		w.setString(metaArtifactVersion, ev.ArtifactVersion)
		if ev.Ephemeral {
			w.set(metaEphemeral, true)
		}
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	case HandoffNote:
		row.Content = &ev.Content
		w.setString(metaFromAgent, ev.FromAgent)
		w.setString(metaToAgent, ev.ToAgent)
		w.setMap(metaMessageMetadata, ev.MessageMetadata)
	default:
		return StoredEvent{}, &UnknownEventActionError{Action: string(e.Action())}
	}

	md, err := w.result()
	if err != nil {
		return StoredEvent{}, fmt.Errorf("dehydrate %s event %s: %w", row.Action, row.ID, err)
	}
	row.Metadata = md
	return row, nil
}

func optionalContent(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// metaReader reads typed fields from a metadata blob. A missing, invalid or
// non-object blob reads as empty so one damaged row never breaks a load.
type metaReader struct {
	doc string
}

func newMetaReader(raw *string) metaReader {
	if raw == nil || !gjson.Valid(*raw) {
		return metaReader{}
	}
	if !gjson.Parse(*raw).IsObject() {
		return metaReader{}
	}
	return metaReader{doc: *raw}
}

func (r metaReader) get(key string) gjson.Result {
	if r.doc == "" {
		return gjson.Result{}
	}
	return gjson.Get(r.doc, key)
}

func (r metaReader) str(key, fallback string) string {
	v := r.get(key)
	if v.Type != gjson.String {
		return fallback
	}
	return v.Str
}

func (r metaReader) flag(key string) bool {
	return r.get(key).Type == gjson.True
}

func (r metaReader) number(key string) *float64 {
	v := r.get(key)
	if v.Type != gjson.Number {
		return nil
	}
	f := v.Num
	return &f
}

func (r metaReader) object(key string) map[string]any {
	v := r.get(key)
	if !v.IsObject() {
		return nil
	}
	m, _ := v.Value().(map[string]any)
	return m
}

func (r metaReader) value(key string) any {
	v := r.get(key)
	if !v.Exists() {
		return nil
	}
	return v.Value()
}

func (r metaReader) seqRange(key string) *SeqRange {
	v := r.get(key)
	if !v.IsArray() {
		return nil
	}
	items := v.Array()
	if len(items) != 2 || items[0].Type != gjson.Number || items[1].Type != gjson.Number {
		return nil
	}
	return &SeqRange{items[0].Int(), items[1].Int()}
}

func (r metaReader) toolCalls(key string) []ToolCall {
	v := r.get(key)
	if !v.IsArray() {
		return []ToolCall{}
	}
	var calls []ToolCall
	if err := json.Unmarshal([]byte(v.Raw), &calls); err != nil || calls == nil {
		return []ToolCall{}
	}
	return calls
}

// Hydrate reconstructs a typed event from its storage row. Rows with an
// action outside the closed set fail with *UnknownEventActionError.
func Hydrate(row StoredEvent) (Event, error) {
	action, err := ParseAction(row.Action)
	if err != nil {
		return nil, err
	}

	meta := newMetaReader(row.Metadata)
	h := EventHeader{
		ID:        row.ID,
		SessionID: row.SessionID,
		Seq:       row.Seq,
		Timestamp: time.UnixMilli(row.CreatedAt).UTC(),
	}
	var content string
	if row.Content != nil {
		content = *row.Content
	}
	msgMeta := meta.object(metaMessageMetadata)

	switch action {
	case ActionUserMessage:
		return UserMessage{EventHeader: h, Content: content, MessageMetadata: msgMeta}, nil
	case ActionAgentMessage:
		return AgentMessage{EventHeader: h, Content: content, Model: meta.str(metaModel, ""), MessageMetadata: msgMeta}, nil
	case ActionToolCallRequest:
		return ToolCallRequest{EventHeader: h, Content: content, ToolCalls: meta.toolCalls(metaToolCalls), MessageMetadata: msgMeta}, nil
	case ActionToolResult:
		return ToolResult{
			EventHeader:     h,
			Content:         content,
			ToolCallID:      meta.str(metaToolCallID, ""),
			ToolName:        meta.str(metaToolName, "tool"),
			Output:          meta.value(metaOutput),
			MessageMetadata: msgMeta,
		}, nil
	case ActionSystemInstruction:
		return SystemInstruction{EventHeader: h, Content: content, Stable: meta.flag(metaStable), MessageMetadata: msgMeta}, nil
	case ActionCompaction:
		return Compaction{
			EventHeader:      h,
			Content:          content,
			ReplacesSeqRange: meta.seqRange(metaReplacesSeqRange),
			Metadata:         meta.object(metaMetadata),
			MessageMetadata:  msgMeta,
		}, nil
	case ActionMemorySnippet:
		return MemorySnippet{EventHeader: h, Content: content, Source: meta.str(metaSource, ""), Score: meta.number(metaScore), MessageMetadata: msgMeta}, nil
	case ActionArtifactRef:
		return ArtifactRef{
			EventHeader:     h,
			Content:         content,
			ArtifactName:    meta.str(metaArtifactName, "artifact"),
			ArtifactVersion: meta.str(metaArtifactVersion, ""),
			Ephemeral:       meta.flag(metaEphemeral),
			MessageMetadata: msgMeta,
		}, nil
	case ActionHandoffNote:
		return HandoffNote{
			EventHeader:     h,
			Content:         content,
			FromAgent:       meta.str(metaFromAgent, ""),
			ToAgent:         meta.str(metaToAgent, ""),
			MessageMetadata: msgMeta,
		}, nil
	}
	return nil, &UnknownEventActionError{Action: row.Action}
}

// HydrateAll hydrates rows in order, stopping at the first failure.
func HydrateAll(rows []StoredEvent) ([]Event, error) {
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := Hydrate(row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
