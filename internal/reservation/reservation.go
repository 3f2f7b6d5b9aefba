// Package reservation implements the Reservation Finalizer: validates and
// coerces the finalize_reservation tool arguments, persists a reservation
// idempotently keyed by callId, and hands off a notification on first
// insert.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rukataka0505/ailuna-call-engine/internal/tenant"
)

var (
	dateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe     = regexp.MustCompile(`^\d{2}:\d{2}$`)
	nonDigitRe = regexp.MustCompile(`\D`)
)

// ErrNoReservationForCall is returned by Store.SetCallLogID when the call
// ended without ever producing a reservation row to link; the orchestrator
// treats this as a reservation_not_created alert, not a fatal error.
var ErrNoReservationForCall = errors.New("reservation: no reservation for call")

// Kind discriminates the tagged result variant returned to the model.
type Kind string

const (
	KindOK            Kind = "ok"
	KindNotConfirmed  Kind = "not_confirmed"
	KindMissingFields Kind = "missing_fields"
	KindSystem        Kind = "system"
)

// Result is the outcome of one finalize_reservation call. Exactly one of
// the kind-specific fields is meaningful, selected by Kind.
type Result struct {
	Kind          Kind
	ReservationID string
	Deduped       bool
	MissingFields []string
	ErrorCode     string
}

// ToolOutput renders the result as the JSON string the model expects as
// function_call_output.
func (r Result) ToolOutput() string {
	switch r.Kind {
	case KindOK:
		b, _ := json.Marshal(map[string]any{
			"ok":             true,
			"reservation_id": r.ReservationID,
			"deduped":        r.Deduped,
		})
		return string(b)
	case KindNotConfirmed:
		b, _ := json.Marshal(map[string]any{
			"ok":         false,
			"error_type": "not_confirmed",
		})
		return string(b)
	case KindMissingFields:
		b, _ := json.Marshal(map[string]any{
			"ok":             false,
			"error_type":     "missing_fields",
			"missing_fields": r.MissingFields,
		})
		return string(b)
	default:
		b, _ := json.Marshal(map[string]any{
			"ok":         false,
			"error_type": "system",
			"error_code": r.ErrorCode,
		})
		return string(b)
	}
}

// Reservation is the row persisted on a successful finalize.
type Reservation struct {
	TenantID       string
	CallID         string
	CallLogID      string
	Answers        map[string]any
	CustomerName   string
	CustomerPhone  string
	PartySize      *int
	RequestedDate  string
	RequestedTime  string
	Status         string
	Source         string
}

// Store persists reservations idempotently keyed by CallID. Fresh reports
// whether this call actually inserted a new row (false means a concurrent
// duplicate was detected and the existing row was returned instead).
type Store interface {
	Insert(ctx context.Context, r Reservation) (id string, fresh bool, err error)
	SetCallLogID(ctx context.Context, callID, callLogID string) error
}

// Notifier fires the out-of-band hand-off on a fresh insert; invoked in a
// detached goroutine so the tool result is never blocked on it.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Notification carries the rendered (label-keyed) reservation fields to
// whatever outbound transport the Notifier implementation targets.
type Notification struct {
	TenantID      string
	ReservationID string
	CallID        string
	Answers       map[string]string // keyed by field label
}

// toolArgs is the raw shape of the finalize_reservation arguments. Answers
// is decoded in two steps so a structurally-valid-JSON-but-wrong-shaped
// answers value (e.g. an array instead of an object) is distinguishable from
// malformed JSON.
type toolArgs struct {
	Answers   json.RawMessage `json:"answers"`
	Confirmed bool            `json:"confirmed"`
}

// Finalizer runs the full validate/persist/notify pipeline for one tool call.
type Finalizer struct {
	store    Store
	notifier Notifier
}

func New(store Store, notifier Notifier) *Finalizer {
	return &Finalizer{store: store, notifier: notifier}
}

// Finalize validates, coerces, and persists one finalize_reservation
// invocation, then dispatches a notification. tenantID/callID identify the
// call; fields is the tenant's enabled field list from the Tenant Config
// Loader; rawArgs is the model's opaque argument string.
func (f *Finalizer) Finalize(ctx context.Context, tenantID, callID string, fields []tenant.Field, rawArgs string) Result {
	var args toolArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Result{Kind: KindSystem, ErrorCode: "PARSE_ERROR"}
	}

	requiredCount := 0
	for _, fl := range fields {
		if fl.Required {
			requiredCount++
		}
	}
	if requiredCount == 0 {
		return Result{Kind: KindSystem, ErrorCode: "NO_REQUIRED_FIELDS"}
	}

	var answers map[string]any
	if len(args.Answers) > 0 {
		if err := json.Unmarshal(args.Answers, &answers); err != nil {
			return Result{Kind: KindSystem, ErrorCode: "INVALID_ANSWERS_FORMAT"}
		}
	}
	if answers == nil {
		return Result{Kind: KindSystem, ErrorCode: "INVALID_ANSWERS_FORMAT"}
	}

	if !args.Confirmed {
		return Result{Kind: KindNotConfirmed}
	}

	coerced, missing := coerceAndValidate(fields, answers)
	if len(missing) > 0 {
		return Result{Kind: KindMissingFields, MissingFields: missing}
	}

	res := Reservation{
		TenantID: tenantID,
		CallID:   callID,
		Answers:  coerced,
		Status:   "pending",
		Source:   "tool",
	}
	applyWellKnownFields(&res, coerced)

	id, fresh, err := f.store.Insert(ctx, res)
	if err != nil {
		return Result{Kind: KindSystem, ErrorCode: "DB_INSERT_FAILED"}
	}

	if fresh && f.notifier != nil {
		go func() {
			n := Notification{
				TenantID:      tenantID,
				ReservationID: id,
				CallID:        callID,
				Answers:       labelKeyed(fields, coerced),
			}
			_ = f.notifier.Send(context.Background(), n)
		}()
	}

	return Result{Kind: KindOK, ReservationID: id, Deduped: !fresh}
}

// applyWellKnownFields copies the canonical field keys onto the typed
// Reservation columns when present, for the tabular view the reservation
// store exposes alongside the raw Answers map.
func applyWellKnownFields(r *Reservation, answers map[string]any) {
	if v, ok := answers["customer_name"].(string); ok {
		r.CustomerName = v
	}
	if v, ok := answers["party_size"].(int); ok {
		r.PartySize = &v
	}
	if v, ok := answers["requested_date"].(string); ok {
		r.RequestedDate = v
	}
	if v, ok := answers["requested_time"].(string); ok {
		r.RequestedTime = v
	}
}

func labelKeyed(fields []tenant.Field, answers map[string]any) map[string]string {
	labels := make(map[string]string, len(fields))
	for _, fl := range fields {
		labels[fl.Key] = fl.Label
	}
	out := make(map[string]string, len(answers))
	for k, v := range answers {
		label := labels[k]
		if label == "" {
			label = k
		}
		out[label] = fmt.Sprintf("%v", v)
	}
	return out
}

// coerceAndValidate applies per-field coercion and required-ness checks,
// returning the coerced answers map and the labels (with a format hint for
// type errors) of any field missing or invalid.
func coerceAndValidate(fields []tenant.Field, answers map[string]any) (map[string]any, []string) {
	coerced := make(map[string]any, len(answers))
	for k, v := range answers {
		coerced[k] = v
	}

	var missing []string
	for _, fl := range fields {
		raw, present := coerced[fl.Key]
		ok := true

		switch fl.Type {
		case tenant.FieldNumber:
			n, valid := coerceNumber(raw, present)
			if valid {
				coerced[fl.Key] = n
			}
			ok = valid
		case tenant.FieldDate:
			s, isStr := raw.(string)
			ok = present && isStr && dateRe.MatchString(s)
		case tenant.FieldTime:
			s, isStr := raw.(string)
			ok = present && isStr && timeRe.MatchString(s)
		default: // text, select
			s, isStr := raw.(string)
			ok = present && isStr && strings.TrimSpace(s) != ""
		}

		if !ok {
			if fl.Required {
				missing = append(missing, missingLabel(fl, present))
			}
			continue
		}
	}
	return coerced, missing
}

// missingLabel renders the label reported for an invalid required field. A
// format hint is only appended for a type error (the field was present but
// malformed); an absent field gets the bare label.
func missingLabel(fl tenant.Field, present bool) string {
	if !present {
		return fl.Label
	}
	switch fl.Type {
	case tenant.FieldDate:
		return fl.Label + " (expected YYYY-MM-DD)"
	case tenant.FieldTime:
		return fl.Label + " (expected HH:mm)"
	case tenant.FieldNumber:
		return fl.Label + " (expected a number)"
	default:
		return fl.Label
	}
}

// coerceNumber strips non-digit characters from a string form and parses
// it, or accepts a value already numeric from JSON decoding.
func coerceNumber(raw any, present bool) (int, bool) {
	if !present {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case string:
		cleaned := nonDigitRe.ReplaceAllString(v, "")
		if cleaned == "" {
			return 0, false
		}
		n, err := strconv.Atoi(cleaned)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
