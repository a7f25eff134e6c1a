package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/flow"
	"github.com/hupe1980/agentctx/model"
)

// run executes the root command against db and returns stdout.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(append([]string{}, args...), "--db", db))

	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, err := run(t, db, args...)
	if err != nil {
		t.Fatalf("agentctx %v: %v", args, err)
	}
	return out
}

func newDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "agentctx.db")
}

func newSession(t *testing.T, db string) string {
	t.Helper()
	id := strings.TrimSpace(mustRun(t, db, "session", "create", "--meta", "user=alice"))
	if id == "" {
		t.Fatal("session create printed no id")
	}
	return id
}

func TestSessionLifecycle(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	if out := mustRun(t, db, "session", "list"); !strings.Contains(out, id) {
		t.Errorf("list output missing %s:\n%s", id, out)
	}

	var sess core.Session
	if err := json.Unmarshal([]byte(mustRun(t, db, "session", "show", id)), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.ID != id || sess.Metadata["user"] != "alice" {
		t.Errorf("show = %+v", sess)
	}

	mustRun(t, db, "session", "delete", id)
	if out := mustRun(t, db, "session", "list"); !strings.Contains(out, "No sessions.") {
		t.Errorf("expected empty list, got:\n%s", out)
	}
	if _, err := run(t, db, "session", "show", id); err == nil {
		t.Error("show of a deleted session should fail")
	}
}

func TestAppendAndEvents(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	if out := mustRun(t, db, "append", id, "--content", "hello"); !strings.Contains(out, "Appended user_message (seq=0)") {
		t.Errorf("append output = %q", out)
	}
	mustRun(t, db, "append", id, "--role", "assistant", "--content", "hi there")
	mustRun(t, db, "append", id, "--role", "system", "--content", "be brief", "--stable")

	var rows []eventRow
	if err := json.Unmarshal([]byte(mustRun(t, db, "events", id, "--json")), &rows); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	want := []string{"user_message", "agent_message", "system_instruction"}
	if len(rows) != len(want) {
		t.Fatalf("got %d events, want %d", len(rows), len(want))
	}
	for i, r := range rows {
		if r.Seq != int64(i) || r.Action != want[i] {
			t.Errorf("row %d = seq %d action %s, want seq %d action %s", i, r.Seq, r.Action, i, want[i])
		}
	}

	out := mustRun(t, db, "events", id, "--action", "agent_message")
	if !strings.Contains(out, "hi there") || strings.Contains(out, "hello") {
		t.Errorf("filtered events:\n%s", out)
	}

	out = mustRun(t, db, "events", id, "--head", "--limit", "1")
	if !strings.Contains(out, "hello") || strings.Contains(out, "hi there") {
		t.Errorf("head events:\n%s", out)
	}
}

func TestAppend_RejectsUnknownRole(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	_, err := run(t, db, "append", id, "--role", "robot", "--content", "beep")
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("err = %v", err)
	}
}

func TestMemory(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	mustRun(t, db, "memory", "set", id, "location", "Hamburg")
	mustRun(t, db, "memory", "set", id, "location", "Berlin")
	mustRun(t, db, "memory", "set", id, "like", "green", "tea")
	mustRun(t, db, "memory", "set", id, "like", "trains")

	out := mustRun(t, db, "memory", "list", id)
	for _, want := range []string{"Berlin", "green tea", "trains"} {
		if !strings.Contains(out, want) {
			t.Errorf("memory list missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Hamburg") {
		t.Errorf("canonical key kept the old value:\n%s", out)
	}

	mustRun(t, db, "memory", "delete", id, "like")
	out = mustRun(t, db, "memory", "list", id)
	if strings.Contains(out, "trains") || !strings.Contains(out, "Berlin") {
		t.Errorf("after delete:\n%s", out)
	}
}

func TestCompile(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	mustRun(t, db, "append", id, "--content", "hello")
	mustRun(t, db, "append", id, "--role", "assistant", "--content", "hi there")
	mustRun(t, db, "memory", "set", id, "location", "Berlin")

	out := mustRun(t, db, "compile", id, "--static", "You are helpful.", "--traces")
	for _, want := range []string{
		"[static] You are helpful.",
		"system: [Memory:structured] location: Berlin (stable)",
		"user: hello",
		"assistant: hi there",
		"# " + flow.NameStablePrefix,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("compile output missing %q:\n%s", want, out)
		}
	}

	var chat []model.ChatMessage
	if err := json.Unmarshal([]byte(mustRun(t, db, "compile", id, "--format", "json", "--no-memory", "--static", "rules")), &chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if len(chat) != 3 || chat[0].Role != core.RoleSystem || chat[0].Content != "rules" || chat[2].Content != "hi there" {
		t.Errorf("chat = %+v", chat)
	}

	out = mustRun(t, db, "compile", id, "--processors", "--max-tokens", "100")
	got := strings.Fields(out)
	want := []string{
		flow.NameSelectTailEvents, flow.NameEventToMessage, flow.NameStructuredMemory,
		flow.NameMemoryRetrieval, flow.NameArtifactResolver, flow.NameStablePrefix, flow.NameTokenBudget,
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("processors = %v, want %v", got, want)
	}

	if _, err := run(t, db, "compile", id, "--format", "yaml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestArtifacts(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	mustRun(t, db, "artifact", "add", id, "budget.xlsx", "--summary", "draft budget")
	mustRun(t, db, "artifact", "add", id, "budget.xlsx", "--summary", "final budget")
	mustRun(t, db, "artifact", "add", id, "notes.txt", "--summary", "meeting notes", "--ephemeral")
	mustRun(t, db, "append", id, "--content", "check the budget numbers")

	out := mustRun(t, db, "artifact", "list", id)
	if !strings.Contains(out, "final budget") || strings.Contains(out, "draft budget") {
		t.Errorf("artifact list:\n%s", out)
	}

	out = mustRun(t, db, "compile", id, "--no-memory")
	if !strings.Contains(out, "system: [Artifact budget.xlsx@2] final budget (stable)") {
		t.Errorf("mentioned artifact not resolved:\n%s", out)
	}
	if strings.Contains(out, "[Artifact notes.txt@") {
		t.Errorf("unmentioned artifact resolved:\n%s", out)
	}

	out = mustRun(t, db, "compile", id, "--no-memory", "--artifacts", "all")
	if !strings.Contains(out, "system: [Artifact notes.txt@1] meeting notes") {
		t.Errorf("all artifacts not resolved:\n%s", out)
	}
}

func TestCompact(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	if out := mustRun(t, db, "compact", id, "--keep", "2"); !strings.Contains(out, "Nothing to compact.") {
		t.Errorf("compact on empty session = %q", out)
	}

	for _, c := range []string{"a", "b", "c", "d", "e", "f"} {
		mustRun(t, db, "append", id, "--content", c)
	}

	out := mustRun(t, db, "compact", id, "--keep", "2", "--delete")
	if !strings.Contains(out, "Compacted 4 events (seq 0-3) into seq 6") {
		t.Errorf("compact output:\n%s", out)
	}
	if !strings.Contains(out, "Recent summary: a | b | c | d") {
		t.Errorf("preview summary missing:\n%s", out)
	}

	var rows []eventRow
	if err := json.Unmarshal([]byte(mustRun(t, db, "events", id, "--json")), &rows); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d events after compaction, want 3", len(rows))
	}
	if rows[2].Action != string(core.ActionCompaction) {
		t.Errorf("last event = %s, want compaction", rows[2].Action)
	}
}

func TestHandoff(t *testing.T) {
	db := newDB(t)
	id := newSession(t, db)

	mustRun(t, db, "append", id, "--content", "book a train")
	mustRun(t, db, "append", id, "--role", "assistant", "--content", "which day?")

	out := mustRun(t, db, "handoff", id,
		"--include", "latest-turn",
		"--from", "planner",
		"--to", "booker",
		"--recast",
		"--prompt", "Book the cheapest option.",
		"--note", "delegating booking",
		"--no-memory",
	)
	for _, want := range []string{
		"user: Book the cheapest option.",
		"user: book a train",
		"user: [For context from planner] which day?",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("handoff output missing %q:\n%s", want, out)
		}
	}

	events := mustRun(t, db, "events", id, "--action", "handoff_note")
	if !strings.Contains(events, "delegating booking") {
		t.Errorf("handoff note not recorded:\n%s", events)
	}

	if _, err := run(t, db, "handoff", id, "--include", "everything"); err == nil {
		t.Error("unknown include mode should fail")
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentctx.yaml")
	cfg := "database: " + filepath.Join(dir, "from-config.db") + "\n" +
		"summarizer:\n  provider: carrier-pigeon\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", path, "session", "list"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown summarizer provider") {
		t.Fatalf("err = %v", err)
	}

	if _, err := run(t, newDB(t), "--config", filepath.Join(dir, "missing.yaml"), "session", "list"); err == nil {
		t.Error("an explicit missing config file should fail")
	}
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := ReadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.Database != defaultDatabase || cfg.Summarizer.Provider != "preview" || cfg.Compaction.KeepTail != 10 {
		t.Errorf("defaults = %+v", cfg)
	}
}
