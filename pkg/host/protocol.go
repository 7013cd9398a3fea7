// Package host talks to a MakeCode editor that embeds the converter as an extension
package host

import "encoding/json"

// MessageType tags every message exchanged with the editor
const MessageType = "pxtpkgext"

// Action is a request sent to the editor
type Action string

const (
	ActionInit              Action = "extinit"
	ActionUserCode          Action = "extusercode"
	ActionReadCode          Action = "extreadcode"
	ActionWriteCode         Action = "extwritecode"
	ActionQueryPermission   Action = "extquerypermission"
	ActionRequestPermission Action = "extrequestpermission"
	ActionDataStream        Action = "extdatastream"
)

// Event is an unsolicited notification from the editor
type Event string

const (
	EventInit   Event = "extinit"
	EventLoaded Event = "extloaded"
	EventShown  Event = "extshown"
	EventHidden Event = "exthidden"
)

// Message is the envelope for requests, responses and events.
// Responses carry the ID of their request; events have no ID.
type Message struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Action   Action          `json:"action,omitempty"`
	Event    Event           `json:"event,omitempty"`
	ExtID    string          `json:"extId,omitempty"`
	Response bool            `json:"response,omitempty"`
	Target   string          `json:"target,omitempty"`
	Resp     json.RawMessage `json:"resp,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
	Body     any             `json:"body,omitempty"`
}

// CodeBody is the extension's stored source, written with extwritecode and
// returned by extreadcode
type CodeBody struct {
	Code string `json:"code,omitempty"`
	JSON string `json:"json,omitempty"`
}

// PermissionBody requests access to device features
type PermissionBody struct {
	Serial bool `json:"serial"`
}
