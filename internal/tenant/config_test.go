package tenant

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fakePrompts struct {
	p   Prompt
	err error
}

func (f fakePrompts) GetPrompt(string) (Prompt, error) { return f.p, f.err }

type fakeFields struct {
	fields []Field
	err    error
}

func (f fakeFields) ListFields(string) ([]Field, error) { return f.fields, f.err }

func TestLoad_FallsBackToCanonicalFieldsWhenNoneEnabled(t *testing.T) {
	l := New(fakePrompts{p: Prompt{SystemPrompt: "hi"}}, fakeFields{fields: []Field{
		{Key: "x", Label: "X", Enabled: false},
	}})
	l.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	got, err := l.Load("tenant-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Fields) != 4 {
		t.Fatalf("expected 4 canonical fields, got %d", len(got.Fields))
	}
}

func TestLoad_OrdersByDisplayOrder(t *testing.T) {
	l := New(fakePrompts{p: Prompt{SystemPrompt: "hi"}}, fakeFields{fields: []Field{
		{Key: "b", Label: "B", Type: FieldText, Enabled: true, DisplayOrder: 2},
		{Key: "a", Label: "A", Type: FieldText, Enabled: true, DisplayOrder: 1},
	}})
	l.now = func() time.Time { return time.Now() }

	got, err := l.Load("tenant-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Fields[0].Key != "a" || got.Fields[1].Key != "b" {
		t.Fatalf("fields not ordered by displayOrder: %+v", got.Fields)
	}
}

func TestLoad_PromptFallsBackWhenStoreErrors(t *testing.T) {
	l := New(fakePrompts{err: errors.New("unreachable")}, fakeFields{fields: []Field{
		{Key: "a", Label: "A", Type: FieldText, Enabled: true, Required: true},
	}})
	l.now = func() time.Time { return time.Now() }

	got, err := l.Load("tenant-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(got.Instructions, "Required information") {
		t.Fatalf("expected assembled instructions, got: %s", got.Instructions)
	}
	if !strings.Contains(got.Instructions, genericBuiltinPrompt) {
		t.Fatalf("expected the built-in fallback prompt, got: %s", got.Instructions)
	}
}

func TestLoad_GreetingUsesTenantMessageOrFallsBack(t *testing.T) {
	l := New(fakePrompts{p: Prompt{SystemPrompt: "hi", GreetingMessage: "Thanks for calling Ada's!"}}, fakeFields{})
	l.now = func() time.Time { return time.Now() }

	got, err := l.Load("tenant-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Greeting != "Thanks for calling Ada's!" {
		t.Fatalf("expected tenant greeting verbatim, got %q", got.Greeting)
	}

	l2 := New(fakePrompts{p: Prompt{SystemPrompt: "hi"}}, fakeFields{})
	l2.now = l.now
	got2, err := l2.Load("tenant-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got2.Greeting != defaultGreeting {
		t.Fatalf("expected default greeting fallback, got %q", got2.Greeting)
	}
}

func TestBuildToolSchema_TypesAndRequired(t *testing.T) {
	fields := []Field{
		{Key: "customer_name", Type: FieldText, Required: true},
		{Key: "party_size", Type: FieldNumber, Required: true},
		{Key: "requested_date", Type: FieldDate, Required: true},
		{Key: "table_pref", Type: FieldSelect, Required: false, Options: []string{"indoor", "outdoor"}},
	}
	schema := buildToolSchema(fields)

	top, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected top-level properties map")
	}
	answers, ok := top["answers"].(map[string]any)
	if !ok {
		t.Fatalf("expected answers schema")
	}
	props := answers["properties"].(map[string]any)

	partySize := props["party_size"].(map[string]any)
	if partySize["type"] != "integer" {
		t.Fatalf("expected party_size to be integer, got %v", partySize["type"])
	}

	tablePref := props["table_pref"].(map[string]any)
	enum, ok := tablePref["enum"].([]string)
	if !ok || len(enum) != 2 {
		t.Fatalf("expected table_pref enum of 2 options, got %v", tablePref["enum"])
	}

	required := answers["required"].([]string)
	if len(required) != 3 {
		t.Fatalf("expected 3 required answer keys, got %v", required)
	}

	topRequired := schema["required"].([]string)
	if len(topRequired) != 2 || topRequired[0] != "answers" || topRequired[1] != "confirmed" {
		t.Fatalf("expected top-level required [answers confirmed], got %v", topRequired)
	}
}
