package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionProgress Action = "progress"
	ActionPause    Action = "pause"
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
)

// RequestPayload carries every action. Fields unused by an action are ignored.
type RequestPayload struct {
	Action       Action `json:"action"`
	QID          string `json:"q_id,omitempty"`
	Answer       string `json:"ans,omitempty"`
	TimeSpentMs  int64  `json:"time_spent_ms,omitempty"`
	CurrentIndex int    `json:"current_index,omitempty"`
	TimeLeft     int    `json:"time_left,omitempty"`
	Paused       bool   `json:"paused,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventSaved   Event = "saved"
	EventPong    Event = "pong"
)

// ResponsePayload is the single frame shape sent to clients.
type ResponsePayload struct {
	Event Event  `json:"event"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
