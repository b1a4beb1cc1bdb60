package models

import "time"

// Entity is an agent known to the gateway
type Entity struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Provider string    `json:"provider,omitempty"`
	Model    string    `json:"model,omitempty"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// IsActive reports whether the gateway currently considers the agent live
func (e Entity) IsActive() bool {
	return e.Status == "active" || e.Status == "running"
}

// ResourceSnapshot is a point-in-time resource reading for one entity
type ResourceSnapshot struct {
	EntityID        string    `json:"entityId"`
	CPUPercent      float64   `json:"cpuPercent"`
	MemoryUsedMB    int       `json:"memoryUsedMb"`
	MemoryTotalMB   int       `json:"memoryTotalMb"`
	DiskUsedPercent float64   `json:"diskUsedPercent"`
	ActiveSessions  int       `json:"activeSessions"`
	CapturedAt      time.Time `json:"capturedAt"`
}

// GatewayHealthStatus is the up/down state of the gateway
type GatewayHealthStatus string

const (
	GatewayUp   GatewayHealthStatus = "up"
	GatewayDown GatewayHealthStatus = "down"
)

// HealthStatus is the result of a gateway health check
type HealthStatus struct {
	Status    GatewayHealthStatus `json:"status"`
	LatencyMs int64               `json:"latencyMs"`
}
