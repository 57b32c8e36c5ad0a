package wsserver

import "github.com/Aeonia-ai/gaia-sub001/internal/dispatch"

// clientMessage is the generic shape of every inbound payload (spec §6.1):
// a required "type" discriminator plus type-specific fields, decoded as a
// map so each branch pulls only what it needs.
type clientMessage map[string]any

func (m clientMessage) messageType() string {
	t, _ := m["type"].(string)
	return t
}

func (m clientMessage) float64Field(name string) (float64, bool) {
	v, ok := m[name].(float64)
	return v, ok
}

func (m clientMessage) stringField(name string) (string, bool) {
	v, ok := m[name].(string)
	return v, ok
}

// actionRequest builds a dispatch.Request from an "action"-typed message.
// Fields carries every key besides "type" and "action" itself — "type" is
// always the message discriminator here, never an admin entity-type
// argument, which rides its own "entity_type" key instead so it survives
// this strip.
func (m clientMessage) actionRequest(experience, userID string) dispatch.Request {
	action, _ := m.stringField("action")
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k == "type" || k == "action" {
			continue
		}
		fields[k] = v
	}
	return dispatch.Request{Experience: experience, UserID: userID, Action: action, Fields: fields}
}

// connectedMessage is sent once, immediately after a successful
// authentication (spec §6.1 "connected").
type connectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Experience   string `json:"experience"`
}

// pongMessage replies to a client "ping" (spec §6.1).
type pongMessage struct {
	Type string `json:"type"`
}

// errorMessage reports a per-message failure without tearing down the
// connection (spec §4.7, §6.2, §7 kind 1).
type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorMessage(code, message string) errorMessage {
	return errorMessage{Type: "error", Code: code, Message: message}
}

// actionResponseMessage wraps a dispatched command's CommandResult with the
// wire-level "action_response" discriminator (spec §6.1).
type actionResponseMessage struct {
	Type string `json:"type"`
	dispatch.Result
}

func newActionResponseMessage(result dispatch.Result) actionResponseMessage {
	return actionResponseMessage{Type: "action_response", Result: result}
}
