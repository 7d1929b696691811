// Package models provides data structures for the fleet master.
package models

import "time"

// NodeStatus represents the last known availability state of a node.
type NodeStatus string

const (
	// NodeStatusUnknown indicates the node has never sent a heartbeat.
	NodeStatusUnknown NodeStatus = "unknown"
	// NodeStatusOnline indicates a heartbeat was received within the offline threshold.
	NodeStatusOnline NodeStatus = "online"
	// NodeStatusOffline indicates the node's last heartbeat is older than the offline threshold.
	NodeStatusOffline NodeStatus = "offline"
	// NodeStatusMaintenance is an operator-set override that heartbeat
	// processing and staleness checks must not clear.
	NodeStatusMaintenance NodeStatus = "maintenance"
)

// HeartbeatSample is the most recent resource snapshot reported by a node.
// Exactly one current sample is retained per node; history is out of scope.
type HeartbeatSample struct {
	CPUUsage      *float64  `json:"cpu_usage,omitempty"`
	MemoryUsage   *float64  `json:"memory_usage,omitempty"`
	DiskUsage     *float64  `json:"disk_usage,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Node represents a registered remote probe agent with a geographic position.
type Node struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    NodeStatus `json:"status"`
	IPv4      string     `json:"ipv4,omitempty"`
	IPv6      string     `json:"ipv6,omitempty"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// Sample is the current heartbeat sample, nil until the first heartbeat.
	Sample *HeartbeatSample `json:"sample,omitempty"`
}

// HasAddress reports whether the node has a usable control address.
func (n *Node) HasAddress() bool {
	return n.IPv4 != "" || n.IPv6 != ""
}

// ValidPosition reports whether the node's coordinates are within range.
func (n *Node) ValidPosition() bool {
	return n.Latitude >= -90 && n.Latitude <= 90 &&
		n.Longitude >= -180 && n.Longitude <= 180
}
