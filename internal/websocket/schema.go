package websocket

import "github.com/stemsi/exstem-assess/internal/session"

// ─── Messages (Client → Server) ─────────────────────────────────────

// ActionPing keeps the connection alive without touching the session.
const ActionPing = "ping"

// RequestPayload carries one session action. The fields mirror the HTTP
// action request.
type RequestPayload struct {
	Action     string   `json:"action" binding:"required,max=32"`
	Index      int      `json:"index" binding:"gte=-1"`
	PostedItem *int     `json:"posted_item" binding:"omitempty,gte=0"`
	Response   []string `json:"response" binding:"omitempty,max=64,dive,max=256"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventView       Event = "view"
	EventIneligible Event = "ineligible"
	EventClosed     Event = "closed"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// ViewResponse delivers the session view after an action.
type ViewResponse struct {
	Event Event        `json:"event"`
	View  session.View `json:"view"`
}

// IneligibleResponse explains why the student may not start.
type IneligibleResponse struct {
	Event   Event        `json:"event"`
	View    session.View `json:"view"`
	Reasons []string     `json:"reasons"`
	Holds   []string     `json:"holds,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
