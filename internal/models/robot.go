package models

import "time"

// Protocol is the wire protocol used to reach a robot endpoint.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolWebSocket Protocol = "websocket"
)

// RobotStatus is the registry-tracked lifecycle status of a robot.
type RobotStatus string

const (
	RobotOnline      RobotStatus = "online"
	RobotOffline     RobotStatus = "offline"
	RobotBusy        RobotStatus = "busy"
	RobotMaintenance RobotStatus = "maintenance"
)

// RobotEntry is a robot registry record (spec §3 "Robot registry entry").
type RobotEntry struct {
	RobotID        string      `json:"robot_id"`
	RobotType      string      `json:"robot_type"`
	Capabilities   []string    `json:"capabilities"`
	Status         RobotStatus `json:"status"`
	Endpoint       string      `json:"endpoint"`
	Protocol       Protocol    `json:"protocol"`
	Credential     string      `json:"-"` // bearer credential forwarded by the HTTP adapter, never serialized
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
}

// HasCapability reports whether the robot accepts the given action type.
func (r *RobotEntry) HasCapability(action string) bool {
	for _, c := range r.Capabilities {
		if c == action {
			return true
		}
	}
	return false
}

// Clone returns a shallow copy safe to hand to callers outside the
// registry's lock.
func (r *RobotEntry) Clone() *RobotEntry {
	cp := *r
	cp.Capabilities = append([]string(nil), r.Capabilities...)
	return &cp
}
