package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSync Action = "sync"
	ActionSave Action = "save"
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SyncRequest carries one heartbeat over the stream.
type SyncRequest struct {
	Action Action `json:"action"`
	model.SyncRequest
}

// SaveRequest writes a single answer over the stream.
type SaveRequest struct {
	Action Action `json:"action"`
	model.SaveResponseRequest
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState      Event = "state"
	EventSyncResult Event = "sync_result"
	EventSaveResult Event = "save_result"
	EventChanged    Event = "changed"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// DataResponse wraps any server payload with its event name.
type DataResponse struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data"`
}

// ChangedResponse is pushed when another connection changed the attempt.
type ChangedResponse struct {
	Event   Event           `json:"event"`
	Attempt json.RawMessage `json:"attempt"`
}

type ErrorResponse struct {
	Event Event       `json:"event"`
	Code  string      `json:"code"`
	Error string      `json:"error"`
	Data  interface{} `json:"data,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
