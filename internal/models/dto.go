package models

import "time"

// ==================== Admin API DTOs ====================

// InstanceResponse is the admin/portal view of an instance.
type InstanceResponse struct {
	ID                   string     `json:"id"`
	Subdomain            string     `json:"subdomain"`
	CustomDomain         string     `json:"custom_domain,omitempty"`
	CustomDomainVerified bool       `json:"custom_domain_verified"`
	CustomDomainSSL      bool       `json:"custom_domain_ssl"`
	Status               string     `json:"status"`
	StatusMessage        string     `json:"status_message,omitempty"`
	SiteName             string     `json:"site_name"`
	URL                  string     `json:"url"`
	Port                 int        `json:"port,omitempty"`
	ContainerName        string     `json:"container_name,omitempty"`
	WelcomeEmailSent     bool       `json:"welcome_email_sent"`
	LastHealthCheck      *time.Time `json:"last_health_check,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// InstanceActionResponse is returned by start/stop/restart/delete actions.
type InstanceActionResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// HealthCheckResponse is returned by a single-instance health probe.
type HealthCheckResponse struct {
	InstanceID string `json:"instance_id"`
	Healthy    bool   `json:"healthy"`
	CheckedAt  string `json:"checked_at"`
}

// StatsResponse is a best-effort container resource snapshot.
type StatsResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// SweepResponse summarizes a bulk maintenance pass.
type SweepResponse struct {
	Checked   int      `json:"checked"`
	Healthy   int      `json:"healthy,omitempty"`
	Unhealthy int      `json:"unhealthy,omitempty"`
	Corrected int      `json:"corrected,omitempty"`
	Cleaned   int      `json:"cleaned,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// OverviewResponse reports operator-facing counts.
type OverviewResponse struct {
	Customers           int            `json:"customers"`
	ActiveSubscriptions int            `json:"active_subscriptions"`
	Instances           int            `json:"instances"`
	InstancesByStatus   map[string]int `json:"instances_by_status"`
}

// ==================== Customer-facing DTOs ====================

// SubdomainCheckRequest asks whether a subdomain is still free.
type SubdomainCheckRequest struct {
	Subdomain string `json:"subdomain" binding:"required"`
}

// SubdomainCheckResponse answers a subdomain availability check.
type SubdomainCheckResponse struct {
	Subdomain string `json:"subdomain"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// CustomDomainRequest sets a custom domain on an instance.
type CustomDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// AuditLogResponse is one audit entry in API form.
type AuditLogResponse struct {
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
