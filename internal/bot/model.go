package bot

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusOnline, StatusOffline:
		return Status(value), true
	default:
		return "", false
	}
}

// State is the live connection state kept by a Supervisor.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

type Record struct {
	Token         string
	Name          string
	Status        Status
	LastHeartbeat *time.Time
	CreatedAt     time.Time
}

// View is a stored bot enriched with what its supervisor currently sees.
type View struct {
	Token         string `json:"token"`
	Name          string `json:"name"`
	Status        Status `json:"status"`
	LastHeartbeat *int64 `json:"lastHeartbeat"`
	CreatedAt     int64  `json:"createdAt"`
	RealStatus    State  `json:"realStatus"`
	IsConnected   bool   `json:"isConnected"`
}

type StatusCheck struct {
	Name          string `json:"name"`
	Token         string `json:"token"`
	DBStatus      Status `json:"dbStatus"`
	ActualStatus  string `json:"actualStatus"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
	Failures      int    `json:"failures"`
	LastError     string `json:"lastError,omitempty"`
}

func newView(rec Record, snap Snapshot) View {
	view := View{
		Token:       rec.Token,
		Name:        rec.Name,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt.Unix(),
		RealStatus:  snap.State,
		IsConnected: snap.State == StateConnected,
	}
	if rec.LastHeartbeat != nil {
		value := rec.LastHeartbeat.Unix()
		view.LastHeartbeat = &value
	}
	return view
}

const maskedTokenPrefix = 20

func maskToken(token string) string {
	if len(token) <= maskedTokenPrefix {
		return token
	}
	return token[:maskedTokenPrefix] + "..."
}
