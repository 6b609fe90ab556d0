// Package ipc carries control commands between parley invocations and the
// process that owns the recording, over a unix socket speaking one JSON line each way.
package ipc

const (
	CommandStatus = "status"
	CommandRecord = "record"
	CommandStop   = "stop"
	CommandCancel = "cancel"
)

type Request struct {
	Command string `json:"command"`
}

// Response reports the owner's session state and, for status, its chunk counters.
type Response struct {
	OK          bool   `json:"ok"`
	State       string `json:"state,omitempty"`
	Status      string `json:"status,omitempty"`
	Chunks      int    `json:"chunks,omitempty"`
	Transcripts int    `json:"transcripts,omitempty"`
	Dropped     int    `json:"dropped,omitempty"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Failure builds a not-OK response carrying err's message.
func Failure(err error) Response {
	if err == nil {
		return Response{OK: false}
	}
	return Response{OK: false, Error: err.Error()}
}
