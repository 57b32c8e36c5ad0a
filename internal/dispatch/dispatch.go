// Package dispatch implements the command dispatcher of spec §4.5: a
// registry mapping action-name strings to fast handlers, an "@"-prefixed
// admin sub-router, and a fallback to an external interpreter adapter for
// everything else. Grounded on _examples/AltairaLabs-PromptKit/server/a2a/server.go's
// handleRPC, which routes a JSON-RPC method string through a table-dispatch
// switch rather than a dynamic dictionary (spec §9 Design Note "Dynamic
// message dispatch → tagged variants + table dispatch").
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Request is the normalized input to a handler: the decoded `action`
// message (spec §6.1) plus the caller's identity. Fields is the raw
// action-specific payload (everything besides `type`/`action`), left as a
// generic map so individual handlers decode only what they need.
type Request struct {
	Experience string
	UserID     string
	Action     string
	Fields     map[string]any
}

// Result is the wire-level CommandResult of spec §4.5.
type Result struct {
	Success         bool           `json:"success"`
	StateChanges    any            `json:"state_changes,omitempty"`
	MessageToPlayer string         `json:"message_to_player"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Error           *Error         `json:"error,omitempty"`
}

// Error is the {code, message} shape used by every handler-reported
// failure (spec §4.5, §6.2, §7 kind 3/4).
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fail builds a failed Result carrying code/message, matching §7's
// propagation policy: handlers return errors as values, never exceptions.
func Fail(code, message string) Result {
	return Result{Success: false, Error: &Error{Code: code, Message: message}}
}

// Handler is a fast-path command handler. It must be idempotent on
// validation errors: any failure path it takes runs no state-manager write
// (spec §4.5 "Handlers must be idempotent on validation errors").
type Handler func(ctx context.Context, req Request) (Result, error)

// Adapter is the external slow-path boundary (spec §9 "Suspended
// conversational handlers → adapter boundary"). internal/interpreter
// supplies implementations; dispatch only depends on this interface so the
// two packages don't import each other.
type Adapter interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

// Dispatcher implements process_command(user_id, experience, command_data)
// -> CommandResult (spec §4.5). It is constructed once at startup and
// passed explicitly to the connection manager (spec §9 "Process-wide state
// → explicit wiring": no globals).
type Dispatcher struct {
	fast        map[string]Handler
	admin       map[string]Handler
	interpreter Adapter
	tracer      trace.Tracer
}

// New constructs a Dispatcher. interpreterAdapter may be nil, in which case
// any action that falls through to the slow path fails with
// "not_implemented" rather than panicking.
func New(fast map[string]Handler, admin map[string]Handler, interpreterAdapter Adapter) *Dispatcher {
	d := &Dispatcher{
		fast:        make(map[string]Handler, len(fast)),
		admin:       make(map[string]Handler, len(admin)),
		interpreter: interpreterAdapter,
		tracer:      trace.NewNoopTracerProvider().Tracer("dispatch"),
	}
	for k, v := range fast {
		d.fast[k] = v
	}
	for k, v := range admin {
		d.admin[k] = v
	}
	return d
}

// Dispatch routes req per spec §4.5 routing rules 1-3.
//
//  1. action starting with "@" → admin sub-router, fast path only, never
//     the interpreter (an unknown admin verb is a validation error, not a
//     slow-path attempt).
//  2. action present in the fast-handler registry → invoke it.
//  3. otherwise → the external interpreter adapter.
//
// The span on ctx is preserved across the call (including into the
// interpreter's own goroutine, if its Adapter implementation spawns one),
// matching the trace-context propagation _examples/AltairaLabs-PromptKit/server/a2a/server.go
// does when handing a request to its own background conversation driver.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch."+actionSpanName(req.Action))
	defer span.End()

	if req.Action == "" {
		return Fail("missing_action", "action field is required"), nil
	}

	if strings.HasPrefix(req.Action, "@") {
		h, ok := d.admin[req.Action]
		if !ok {
			return Fail("unknown_message_type", fmt.Sprintf("unknown admin action %q", req.Action)), nil
		}
		return h(ctx, req)
	}

	if h, ok := d.fast[req.Action]; ok {
		return h(ctx, req)
	}

	if d.interpreter == nil {
		return Fail("not_implemented", fmt.Sprintf("no handler for action %q", req.Action)), nil
	}
	return d.interpreter.Resolve(ctx, req)
}

func actionSpanName(action string) string {
	if action == "" {
		return "unknown"
	}
	return action
}
