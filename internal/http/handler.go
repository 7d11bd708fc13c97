package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopkite/platform/provisioner/internal/models"
	"github.com/shopkite/platform/provisioner/internal/repository"
	"github.com/shopkite/platform/provisioner/internal/service"
)

type Handler struct {
	baseDomain  string
	instanceSvc *service.InstanceService
	domainSvc   *service.DomainService
	maintSvc    *service.MaintenanceService
	instances   service.InstanceStore
	audit       service.AuditStore
}

func NewHandler(
	baseDomain string,
	instanceSvc *service.InstanceService,
	domainSvc *service.DomainService,
	maintSvc *service.MaintenanceService,
	instances service.InstanceStore,
	audit service.AuditStore,
) *Handler {
	return &Handler{
		baseDomain:  baseDomain,
		instanceSvc: instanceSvc,
		domainSvc:   domainSvc,
		maintSvc:    maintSvc,
		instances:   instances,
		audit:       audit,
	}
}

func (h *Handler) instanceResponse(inst *models.Instance) *models.InstanceResponse {
	return &models.InstanceResponse{
		ID:                   inst.ID,
		Subdomain:            inst.Subdomain,
		CustomDomain:         inst.CustomDomain,
		CustomDomainVerified: inst.CustomDomainVerified,
		CustomDomainSSL:      inst.CustomDomainSSL,
		Status:               inst.Status,
		StatusMessage:        inst.StatusMessage,
		SiteName:             inst.SiteName,
		URL:                  inst.FullURL(h.baseDomain),
		Port:                 inst.Port,
		ContainerName:        inst.ContainerName,
		WelcomeEmailSent:     inst.WelcomeEmailSent,
		LastHealthCheck:      inst.LastHealthCheck,
		CreatedAt:            inst.CreatedAt,
	}
}

// loadInstance fetches the instance from the path param, writing the error
// response itself and returning nil when the caller should stop.
func (h *Handler) loadInstance(c *gin.Context) *models.Instance {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance id required"})
		return nil
	}

	inst, err := h.instances.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return nil
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	return inst
}

// writeDomainError maps service errors to client or server status codes.
func writeDomainError(c *gin.Context, err error) {
	var verr *service.ValidationError
	var derr *service.DomainError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case errors.As(err, &derr):
		c.JSON(http.StatusConflict, gin.H{"error": derr.Message, "retryable": derr.Retryable})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ==================== Public API Handlers ====================

// CheckSubdomain reports whether a subdomain is syntactically valid and
// still free, for the signup form.
func (h *Handler) CheckSubdomain(c *gin.Context) {
	var req models.SubdomainCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := models.SubdomainCheckResponse{Subdomain: req.Subdomain}

	if !models.ValidSubdomain(req.Subdomain) {
		resp.Error = "subdomain must be lowercase letters, digits and hyphens"
		c.JSON(http.StatusOK, resp)
		return
	}

	taken, err := h.instances.SubdomainTaken(c.Request.Context(), req.Subdomain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp.Available = !taken
	c.JSON(http.StatusOK, resp)
}

// ==================== Admin API Handlers ====================

// ListInstances returns every instance, optionally filtered by status.
func (h *Handler) ListInstances(c *gin.Context) {
	var (
		list []*models.Instance
		err  error
	)
	if status := c.Query("status"); status != "" {
		list, err = h.instances.ListByStatus(c.Request.Context(), status)
	} else {
		list, err = h.instances.ListAll(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]*models.InstanceResponse, 0, len(list))
	for _, inst := range list {
		out = append(out, h.instanceResponse(inst))
	}
	c.JSON(http.StatusOK, gin.H{"instances": out})
}

// GetInstance returns one instance by id.
func (h *Handler) GetInstance(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}
	c.JSON(http.StatusOK, h.instanceResponse(inst))
}

// GetInstanceLogs returns the instance's audit trail, newest first.
func (h *Handler) GetInstanceLogs(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.audit.GetByInstanceID(c.Request.Context(), inst.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]*models.AuditLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, &models.AuditLogResponse{
			Action:    e.Action,
			Message:   e.Message,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

func (h *Handler) action(c *gin.Context, verb string, run func(*models.Instance) error) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	if err := run(inst); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.InstanceActionResponse{
		InstanceID: inst.ID,
		Status:     inst.Status,
		Message:    verb + " succeeded",
	})
}

// StartInstance starts (or re-provisions) the instance's container.
func (h *Handler) StartInstance(c *gin.Context) {
	h.action(c, "start", func(inst *models.Instance) error {
		return h.instanceSvc.Start(c.Request.Context(), inst)
	})
}

// StopInstance stops the instance's container.
func (h *Handler) StopInstance(c *gin.Context) {
	h.action(c, "stop", func(inst *models.Instance) error {
		return h.instanceSvc.Stop(c.Request.Context(), inst)
	})
}

// RestartInstance restarts the instance's container.
func (h *Handler) RestartInstance(c *gin.Context) {
	h.action(c, "restart", func(inst *models.Instance) error {
		return h.instanceSvc.Restart(c.Request.Context(), inst)
	})
}

// UpdateInstance replaces the instance's container with the latest image.
func (h *Handler) UpdateInstance(c *gin.Context) {
	h.action(c, "update", func(inst *models.Instance) error {
		return h.instanceSvc.UpdateImage(c.Request.Context(), inst)
	})
}

// DestroyInstance tears the instance down. ?hard=true also removes the
// ledger row.
func (h *Handler) DestroyInstance(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	hard := c.Query("hard") == "true"
	if err := h.instanceSvc.Destroy(c.Request.Context(), inst, hard); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.InstanceActionResponse{
		InstanceID: inst.ID,
		Status:     models.StatusDeleted,
		Message:    "destroy succeeded",
	})
}

// CheckInstanceHealth probes one instance immediately.
func (h *Handler) CheckInstanceHealth(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	healthy := h.instanceSvc.HealthCheck(c.Request.Context(), inst)
	c.JSON(http.StatusOK, models.HealthCheckResponse{
		InstanceID: inst.ID,
		Healthy:    healthy,
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// GetInstanceStats returns a container resource snapshot.
func (h *Handler) GetInstanceStats(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	stats := h.instanceSvc.Stats(c.Request.Context(), inst)
	if stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.StatsResponse{
		CPUPercent:    stats.CPUPercent,
		MemoryUsageMB: stats.MemoryUsageMB,
		MemoryPercent: stats.MemoryPercent,
	})
}

// HealthSweep probes every running instance.
func (h *Handler) HealthSweep(c *gin.Context) {
	result, err := h.maintSvc.HealthSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.SweepResponse{
		Checked:   result.Checked,
		Healthy:   result.Healthy,
		Unhealthy: result.Unhealthy,
	})
}

// CleanupSweep removes containers left behind by deleted instances.
func (h *Handler) CleanupSweep(c *gin.Context) {
	result, err := h.maintSvc.CleanupDeleted(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.SweepResponse{
		Checked: result.Checked,
		Cleaned: result.Checked - result.Errors,
	})
}

// SyncSweep reconciles ledger status with observed container state.
func (h *Handler) SyncSweep(c *gin.Context) {
	result, err := h.maintSvc.SyncStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.SweepResponse{
		Checked:   result.Checked,
		Corrected: result.Checked - result.Errors,
	})
}

// Overview returns platform-wide counts.
func (h *Handler) Overview(c *gin.Context) {
	overview, err := h.maintSvc.Overview(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, overview)
}

// ==================== Domain Handlers ====================

// SetCustomDomain attaches a custom domain to an instance.
func (h *Handler) SetCustomDomain(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	var req models.CustomDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.domainSvc.SetupCustomDomain(c.Request.Context(), inst.ID, req.Domain); err != nil {
		writeDomainError(c, err)
		return
	}

	inst, err := h.instances.GetByID(c.Request.Context(), inst.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.instanceResponse(inst))
}

// RetrySSL retries certificate issuance for a verified custom domain.
func (h *Handler) RetrySSL(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	if err := h.domainSvc.RetrySSL(c.Request.Context(), inst.ID); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ssl_enabled": true})
}

// RemoveCustomDomain detaches the custom domain. ?delete_cert=true also
// removes the issued certificate.
func (h *Handler) RemoveCustomDomain(c *gin.Context) {
	inst := h.loadInstance(c)
	if inst == nil {
		return
	}

	deleteCert := c.Query("delete_cert") == "true"
	if err := h.domainSvc.RemoveCustomDomain(c.Request.Context(), inst.ID, deleteCert); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// ==================== Portal API Handlers ====================

// GetMyInstance returns the authenticated customer's instance.
func (h *Handler) GetMyInstance(c *gin.Context) {
	customerID := c.GetString("customerID")
	if customerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing customer identity"})
		return
	}

	inst, err := h.instances.GetByCustomer(c.Request.Context(), customerID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no instance for this account"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.instanceResponse(inst))
}

// myInstance resolves the caller's instance and rewrites the id param so
// the domain handlers can be shared between admin and portal routes.
func (h *Handler) myInstance(c *gin.Context) bool {
	customerID := c.GetString("customerID")
	if customerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing customer identity"})
		return false
	}

	inst, err := h.instances.GetByCustomer(c.Request.Context(), customerID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no instance for this account"})
		return false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}

	c.Params = append(c.Params, gin.Param{Key: "id", Value: inst.ID})
	return true
}

// SetMyCustomDomain lets the customer attach a domain to their instance.
func (h *Handler) SetMyCustomDomain(c *gin.Context) {
	if !h.myInstance(c) {
		return
	}
	h.SetCustomDomain(c)
}

// RetryMySSL lets the customer retry certificate issuance.
func (h *Handler) RetryMySSL(c *gin.Context) {
	if !h.myInstance(c) {
		return
	}
	h.RetrySSL(c)
}

// RemoveMyCustomDomain lets the customer detach their domain.
func (h *Handler) RemoveMyCustomDomain(c *gin.Context) {
	if !h.myInstance(c) {
		return
	}
	h.RemoveCustomDomain(c)
}
