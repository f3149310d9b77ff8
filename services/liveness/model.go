package liveness

import (
	"encoding/json"
	"time"

	"octopus-controlplane/pkg/celengine"

	"gorm.io/datatypes"
)

type Liveness string

const (
	Online  Liveness = "online"
	Idle    Liveness = "idle"
	Offline Liveness = "offline"
)

type AdminStatus string

const (
	AdminActive   AdminStatus = "active"
	AdminInactive AdminStatus = "inactive"
)

func (s AdminStatus) Valid() bool {
	return s == AdminActive || s == AdminInactive
}

// Client is a registered agent. Liveness is derived from LastHeartbeat and is
// never stored.
type Client struct {
	ClientID      string         `gorm:"column:client_id;primaryKey;type:varchar(128)" json:"client_id"`
	Hostname      string         `gorm:"column:hostname;type:varchar(255)" json:"hostname"`
	IPAddress     string         `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	Platform      string         `gorm:"column:platform;type:varchar(64)" json:"platform,omitempty"`
	Version       string         `gorm:"column:version;type:varchar(64)" json:"version,omitempty"`
	Capabilities  datatypes.JSON `gorm:"column:capabilities" json:"capabilities"`
	LastHeartbeat time.Time      `gorm:"column:last_heartbeat;index;not null" json:"last_heartbeat"`
	AdminStatus   AdminStatus    `gorm:"column:administrative_status;type:varchar(16);not null;default:'active'" json:"administrative_status"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

func (c Client) CapabilityList() []string {
	var caps []string
	if len(c.Capabilities) == 0 {
		return caps
	}
	_ = json.Unmarshal(c.Capabilities, &caps)
	return caps
}

// Attributes exposes the client to selector expressions.
func (c Client) Attributes() map[string]any {
	caps := c.CapabilityList()
	if caps == nil {
		caps = []string{}
	}
	return map[string]any{
		celengine.VarClientID:     c.ClientID,
		celengine.VarHostname:     c.Hostname,
		celengine.VarPlatform:     c.Platform,
		celengine.VarVersion:      c.Version,
		celengine.VarCapabilities: caps,
	}
}

// View is a client together with its liveness at a point in time.
type View struct {
	Client
	Liveness Liveness `json:"liveness"`
}

// Heartbeat is one check-in from an agent. A zero Timestamp means "now".
type Heartbeat struct {
	ClientID     string
	Hostname     string
	IPAddress    string
	Platform     string
	Version      string
	Capabilities []string
	Timestamp    time.Time
}
