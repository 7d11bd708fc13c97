package models

import "time"

// Runtime container states reported by the driver.
const (
	ContainerRunning = "running"
	ContainerExited  = "exited"
	ContainerCreated = "created"
	ContainerPaused  = "paused"
)

// ContainerSpec describes the container to create for an instance.
type ContainerSpec struct {
	Name     string
	Image    string
	Env      []string
	Binds    []string
	HostPort int
	AppPort  int

	HealthPath     string
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	HealthRetries  int
}

// ContainerStats is a best-effort resource usage snapshot.
type ContainerStats struct {
	CPUPercent    float64
	MemoryUsageMB float64
	MemoryPercent float64
}
