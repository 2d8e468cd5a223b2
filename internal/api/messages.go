package api

import (
	"encoding/json"
	"time"
)

// Request represents an incoming request over the UNIX socket.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Response represents a response to a request.
type Response struct {
	Ok   bool        `json:"ok"`
	Err  string      `json:"err,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// SpawnRequest is the data for a spawn action. Empty fields take defaults.
type SpawnRequest struct {
	ID   string `json:"id,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// SpawnResponse is the data returned from a spawn action.
type SpawnResponse struct {
	ID      string `json:"id"`
	Program string `json:"program"`
	Pid     int    `json:"pid"`
}

// WriteRequest is the data for a write action. Data carries text; Bytes
// carries raw input (base64 on the wire) and takes precedence when set.
type WriteRequest struct {
	ID    string `json:"id"`
	Data  string `json:"data,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

// ResizeRequest is the data for a resize action.
type ResizeRequest struct {
	ID   string `json:"id"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// KillRequest is the data for a kill action.
type KillRequest struct {
	ID string `json:"id"`
}

// AttachRequest is the data for an attach action.
type AttachRequest struct {
	ID string `json:"id"`
}

// OutputEvent is one line of an attach stream. An event with Err set is the
// last one on the stream.
type OutputEvent struct {
	ID   string `json:"id"`
	Data string `json:"data"`
	Err  string `json:"err,omitempty"`
}

const errLaggingClient = "client fell behind the session output"

// ListResponse is the data returned from a list action.
type ListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// Session statuses reported by list.
const (
	StatusActive = "active"
	StatusExited = "exited"
)

// SessionInfo contains information about a session.
type SessionInfo struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Program  string `json:"program"`
	Pid      int    `json:"pid"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// HistoryRequest is the data for a history action. An empty ID means all
// sessions.
type HistoryRequest struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// HistoryEvent is one journal entry.
type HistoryEvent struct {
	Time     time.Time `json:"time"`
	ID       string    `json:"id"`
	Event    string    `json:"event"`
	Program  string    `json:"program"`
	Pid      int       `json:"pid"`
	ExitCode *int      `json:"exit_code,omitempty"`
}

// HistoryResponse is the data returned from a history action.
type HistoryResponse struct {
	Events []HistoryEvent `json:"events"`
}
