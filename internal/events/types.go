package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// Type discriminates the event stream.
type Type string

const (
	// TypeAdmission is emitted for every admission decision.
	TypeAdmission Type = "admission"
	// TypeIntrusion is emitted when a query deviates from learned behavior.
	TypeIntrusion Type = "intrusion"
	// TypeBlock is emitted when an IP or principal block is written.
	TypeBlock Type = "block"
	// TypeLoad is emitted on every database load sample.
	TypeLoad Type = "load"
	// TypeConnection is emitted when an event subscriber joins or leaves.
	TypeConnection Type = "connection"
)

// Event is one message on the subscriber stream.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AdmissionEvent mirrors one admission decision.
type AdmissionEvent struct {
	Identity   string   `json:"identity"`
	Principal  string   `json:"principal"`
	Allowed    bool     `json:"allowed"`
	Reasons    []string `json:"reasons,omitempty"`
	RiskScore  float64  `json:"risk_score"`
	QueryHash  string   `json:"query_hash"`
	TimeoutMS  int64    `json:"timeout_ms,omitempty"`
	DurationMS float64  `json:"duration_ms"`
}

// IntrusionEvent reports a behavioral deviation.
type IntrusionEvent struct {
	Identity    string  `json:"identity"`
	Principal   string  `json:"principal"`
	Cluster     int     `json:"cluster"`
	Confidence  float64 `json:"confidence"`
	Threshold   float64 `json:"threshold"`
	Infractions int     `json:"infractions"`
}

// BlockEvent reports a new block record.
type BlockEvent struct {
	Kind     string    `json:"kind"` // "ip" or "principal"
	Identity string    `json:"identity"`
	Expires  time.Time `json:"expires"`
	Reason   string    `json:"reason"`
}

// LoadEvent mirrors one database load sample.
type LoadEvent struct {
	ActiveConnections int     `json:"active_connections"`
	RunningQueries    int     `json:"running_queries"`
	AvgQueryTime      float64 `json:"avg_query_time"`
	LoadFactor        float64 `json:"load_factor"`
}

// ConnectionEvent reports subscriber churn.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage is a message received from a subscriber.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows which event types a subscriber receives.
type SubscriptionRequest struct {
	Events []Type `json:"events"`
}

// Client is one connected event subscriber.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}

// HubStats tracks hub counters for the admin API.
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}
