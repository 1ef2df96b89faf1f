package gateway

import (
	"sync"
	"time"

	"github.com/Krish-357/Academic-Advisor/pkg/orchestrator"
	"github.com/gorilla/websocket"
)

// QueryRequest is the body of POST /api/query and /api/chat, and the payload of
// an inbound websocket frame.
type QueryRequest struct {
	UserID  string                 `json:"user_id"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// InboundFrame is a query sent over /ws. ID is echoed back on the reply.
type InboundFrame struct {
	ID string `json:"id,omitempty"`
	QueryRequest
}

// Outbound frame types.
const (
	FrameResponse = "response"
	FrameError    = "error"
)

// OutboundFrame carries either a complete AgentResponse or an error detail.
type OutboundFrame struct {
	ID      string                      `json:"id,omitempty"`
	Type    string                      `json:"type"`
	Data    *orchestrator.AgentResponse `json:"data,omitempty"`
	Detail  string                      `json:"detail,omitempty"`
	TraceID string                      `json:"trace_id,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string

	writeMu sync.Mutex
}

// WriteFrame serializes frame writes; gorilla connections allow one writer at a time.
func (c *Client) WriteFrame(frame OutboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(frame)
}
