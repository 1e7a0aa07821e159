// Package validate implements structural validation for incoming activity
// events: a JSON-schema check over the wire shape plus semantic checks the
// schema cannot express (address syntax, zero timestamps).
package validate

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrelsec/kestrel/internal/model"
)

//go:embed schema.json
var eventSchema string

// Validator checks well-formedness of activity events before acceptance.
// It has no side effects and holds no mutable state after construction.
type Validator struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

// New compiles the embedded event schema and returns a Validator.
func New(logger *slog.Logger) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("activity_event.json", strings.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("activity_event.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema, logger: logger}, nil
}

// Event checks a decoded event. It returns ok=false with a human-readable
// reason when the event must be rejected at the boundary.
func (v *Validator) Event(e *model.ActivityEvent) (bool, string) {
	if e == nil {
		return false, "event is nil"
	}
	if err := v.schema.Validate(eventToMap(e)); err != nil {
		v.logger.Debug("event failed schema validation", "actor_id", e.ActorID, "error", err)
		return false, fmt.Sprintf("schema: %v", err)
	}
	if e.Timestamp.IsZero() {
		return false, "timestamp is absent"
	}
	// Only the origin address carries a syntax invariant; the destination
	// is opaque payload and passes through unchecked.
	if e.SourceAddr != "" {
		if _, err := netip.ParseAddr(e.SourceAddr); err != nil {
			return false, fmt.Sprintf("source_addr %q is not a valid address", e.SourceAddr)
		}
	}
	return true, ""
}

// eventToMap converts an event to a plain map for schema validation.
func eventToMap(e *model.ActivityEvent) map[string]any {
	m := map[string]any{
		"actor_id": e.ActorID,
		"kind":     string(e.Kind),
	}
	if !e.Timestamp.IsZero() {
		m["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}
	if e.ID != "" {
		m["id"] = e.ID
	}
	if e.SourceAddr != "" {
		m["source_addr"] = e.SourceAddr
	}
	if e.DestAddr != "" {
		m["dest_addr"] = e.DestAddr
	}
	if e.Resource != "" {
		m["resource"] = e.Resource
	}
	if e.Action != "" {
		m["action"] = e.Action
	}
	if e.Outcome != "" {
		m["outcome"] = string(e.Outcome)
	}
	if e.SessionID != "" {
		m["session_id"] = e.SessionID
	}
	if len(e.Attributes) > 0 {
		attrs := make(map[string]any, len(e.Attributes))
		for k, val := range e.Attributes {
			attrs[k] = val
		}
		m["attributes"] = attrs
	}
	return m
}
