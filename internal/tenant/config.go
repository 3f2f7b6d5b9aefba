// Package tenant assembles per-tenant conversation instructions and the
// finalize_reservation JSON Schema from read-only prompt/field rows. It
// depends only on small interfaces, never owning the construction of the
// stores behind them.
package tenant

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// FieldType mirrors the reservation field type column.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldTime   FieldType = "time"
	FieldSelect FieldType = "select"
)

// Field is one row of a tenant's reservation form.
type Field struct {
	Key         string
	Label       string
	Type        FieldType
	Required    bool
	Options     []string
	Description string
	DisplayOrder int
	Enabled     bool
}

// Prompt is the tenant's free-form configuration row.
type Prompt struct {
	SystemPrompt   string
	GreetingMessage string
}

// PromptStore and FieldStore are the two read-only sources the Loader
// consumes. The Loader package itself never imports a database driver; the
// default production implementations live in internal/tenant/postgres.
type PromptStore interface {
	GetPrompt(tenantID string) (Prompt, error)
}

type FieldStore interface {
	ListFields(tenantID string) ([]Field, error)
}

// defaultCanonicalFields is used when a tenant has no enabled fields
// configured at all. A phone number is not among them: the carrier already
// supplies it via the call's From number, so asking for it again in the
// reservation flow would be redundant.
func defaultCanonicalFields() []Field {
	return []Field{
		{Key: "customer_name", Label: "Name", Type: FieldText, Required: true, DisplayOrder: 0, Enabled: true},
		{Key: "party_size", Label: "Party size", Type: FieldNumber, Required: true, DisplayOrder: 1, Enabled: true},
		{Key: "requested_date", Label: "Date", Type: FieldDate, Required: true, DisplayOrder: 2, Enabled: true},
		{Key: "requested_time", Label: "Time", Type: FieldTime, Required: true, DisplayOrder: 3, Enabled: true},
	}
}

const genericBuiltinPrompt = `You are a phone reservation assistant. Be concise, warm, and efficient. Collect the requested information one item at a time, read it back, and confirm before finalizing.`

// defaultGreeting opens the call when a tenant has no configured greeting.
const defaultGreeting = "Greet the caller warmly and ask how you can help with their reservation."

// fallbackPromptPath is the local file consulted when the store is
// unreachable or has no prompt row for the tenant.
const fallbackPromptPath = "system_prompt.md"

// Loader assembles instructions and a tool schema for one tenant at a time.
type Loader struct {
	prompts PromptStore
	fields  FieldStore
	now     func() time.Time
}

// New constructs a Loader. now defaults to time.Now; tests may override it.
func New(prompts PromptStore, fields FieldStore) *Loader {
	return &Loader{prompts: prompts, fields: fields, now: time.Now}
}

// Assembled is the Loader's output for one tenant.
type Assembled struct {
	Instructions string
	// Greeting is the verbatim line the model's first response.create should
	// open with, distinct from Instructions (the full system prompt).
	Greeting   string
	Fields     []Field
	ToolSchema map[string]any
}

// Load fetches prompt and fields for tenantID and assembles instructions
// plus the finalize_reservation JSON Schema.
func (l *Loader) Load(tenantID string) (Assembled, error) {
	prompt := l.loadPromptWithFallback(tenantID)

	fields, err := l.fields.ListFields(tenantID)
	if err != nil {
		fields = nil
	}
	fields = enabledOnly(fields)
	if len(fields) == 0 {
		fields = defaultCanonicalFields()
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].DisplayOrder < fields[j].DisplayOrder })

	instructions := l.buildInstructions(prompt, fields)
	schema := buildToolSchema(fields)

	greeting := prompt.GreetingMessage
	if greeting == "" {
		greeting = defaultGreeting
	}

	return Assembled{Instructions: instructions, Greeting: greeting, Fields: fields, ToolSchema: schema}, nil
}

func (l *Loader) loadPromptWithFallback(tenantID string) Prompt {
	if l.prompts != nil {
		if p, err := l.prompts.GetPrompt(tenantID); err == nil && p.SystemPrompt != "" {
			return p
		}
	}
	if data, err := os.ReadFile(fallbackPromptPath); err == nil && len(data) > 0 {
		return Prompt{SystemPrompt: string(data)}
	}
	return Prompt{SystemPrompt: genericBuiltinPrompt}
}

func enabledOnly(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

func (l *Loader) buildInstructions(prompt Prompt, fields []Field) string {
	now := l.now()
	var required, optional []string
	for _, f := range fields {
		if f.Required {
			required = append(required, f.Label)
		} else {
			optional = append(optional, f.Label)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s.\n\n", now.Format("Monday, January 2, 2006 at 15:04 MST"))
	b.WriteString("Reservation intake is this call's default mode and overrides any instruction below that says otherwise.\n\n")
	if len(required) > 0 {
		fmt.Fprintf(&b, "Required information, in order: %s.\n", strings.Join(required, ", "))
	}
	if len(optional) > 0 {
		fmt.Fprintf(&b, "Optional information: %s.\n", strings.Join(optional, ", "))
	}
	b.WriteString("Collect each item in turn, read it back, and get explicit confirmation before calling finalize_reservation(answers, confirmed). ")
	b.WriteString("Never tell the caller the reservation is confirmed before the tool returns ok = true. ")
	b.WriteString("Follow whichever result branch the tool returns: on success tell the caller it's booked; on not-confirmed ask again; on missing fields ask for exactly those; on a system error apologize and offer to take a manual note.\n\n")
	if prompt.GreetingMessage != "" {
		fmt.Fprintf(&b, "Greeting: %s\n\n", prompt.GreetingMessage)
	}
	if prompt.SystemPrompt != "" {
		b.WriteString("Tenant instructions:\n")
		b.WriteString(prompt.SystemPrompt)
	}
	return b.String()
}

// buildToolSchema produces the JSON Schema for finalize_reservation's
// parameters: {answers: {...}, confirmed: boolean}, both required.
func buildToolSchema(fields []Field) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string

	for _, f := range fields {
		properties[f.Key] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Key)
		}
	}

	answersSchema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		answersSchema["required"] = required
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answers":   answersSchema,
			"confirmed": map[string]any{"type": "boolean"},
		},
		"required": []string{"answers", "confirmed"},
	}
}

func fieldSchema(f Field) map[string]any {
	switch f.Type {
	case FieldNumber:
		return withDescription(map[string]any{"type": "integer"}, f.Description)
	case FieldDate:
		return withDescription(map[string]any{"type": "string", "description": "YYYY-MM-DD"}, f.Description)
	case FieldTime:
		return withDescription(map[string]any{"type": "string", "description": "HH:mm"}, f.Description)
	case FieldSelect:
		return withDescription(map[string]any{"type": "string", "enum": f.Options}, f.Description)
	default:
		return withDescription(map[string]any{"type": "string"}, f.Description)
	}
}

func withDescription(schema map[string]any, description string) map[string]any {
	if description != "" {
		if _, ok := schema["description"]; !ok {
			schema["description"] = description
		}
	}
	return schema
}
