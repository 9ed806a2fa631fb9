// Package manage exposes the narrow JSON API the admin domain consumes:
// device CRUD, sync status, and sync triggers. Raw protocol errors never
// surface here; the admin sees state counts and health percentages.
package manage

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devicegw/internal/device"
	"devicegw/internal/metrics"
	"devicegw/internal/syncengine"
)

// Handler serves the management routes.
type Handler struct {
	registry *device.Registry
	engine   *syncengine.Engine
	metrics  *metrics.Gateway
	log      *zap.Logger
}

// NewHandler builds the handler.
func NewHandler(registry *device.Registry, engine *syncengine.Engine, m *metrics.Gateway, log *zap.Logger) *Handler {
	return &Handler{registry: registry, engine: engine, metrics: m, log: log}
}

// Register mounts the management routes on an authenticated group.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/schools/:schoolID/devices", h.listDevices)
	r.POST("/devices", h.registerDevice)
	r.DELETE("/devices/:serial", h.deactivateDevice)
	r.GET("/devices/:deviceID/sync", h.syncStatus)
	r.POST("/devices/:deviceID/sync/full", h.triggerFullSync)
	r.POST("/devices/:deviceID/sync/verify", h.triggerVerifySync)
}

type deviceView struct {
	ID          string     `json:"id"`
	Serial      string     `json:"serialNumber"`
	Name        string     `json:"name"`
	SchoolID    string     `json:"schoolId"`
	Active      bool       `json:"active"`
	Status      string     `json:"status"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
	TotalUsers  int        `json:"totalUsers"`
	SyncedUsers int        `json:"syncedUsers"`
}

func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.registry.List(c.Request.Context(), c.Param("schoolID"))
	if err != nil {
		h.log.Error("list devices failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device listing failed"})
		return
	}
	views := make([]deviceView, len(devices))
	for i, d := range devices {
		views[i] = deviceView{
			ID: d.ID, Serial: d.Serial, Name: d.Name, SchoolID: d.SchoolID,
			Active: d.Active, Status: string(d.Status), LastSeenAt: d.LastSeenAt,
			TotalUsers: d.TotalUsers, SyncedUsers: d.SyncedUsers,
		}
	}
	c.JSON(http.StatusOK, gin.H{"devices": views})
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		SerialNumber string `json:"serialNumber" binding:"required"`
		Name         string `json:"name"`
		SchoolID     string `json:"schoolId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.registry.Register(c.Request.Context(), req.SerialNumber, req.Name, req.SchoolID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": d.ID, "serialNumber": d.Serial})
}

func (h *Handler) deactivateDevice(c *gin.Context) {
	if err := h.registry.Deactivate(c.Request.Context(), c.Param("serial")); err != nil {
		if errors.Is(err, device.ErrUnknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.log.Error("deactivate failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deactivate failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) syncStatus(c *gin.Context) {
	status, err := h.engine.Status(c.Request.Context(), c.Param("deviceID"))
	if err != nil {
		if errors.Is(err, device.ErrUnknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.log.Error("sync status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync status failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) triggerFullSync(c *gin.Context) {
	queued, err := h.engine.FullSync(c.Request.Context(), c.Param("deviceID"))
	if err != nil {
		h.writeSyncError(c, err)
		return
	}
	h.metrics.SyncCommands.Add(float64(queued))
	c.JSON(http.StatusAccepted, gin.H{"commandsQueued": queued})
}

func (h *Handler) triggerVerifySync(c *gin.Context) {
	res, err := h.engine.VerifySync(c.Request.Context(), c.Param("deviceID"))
	if err != nil {
		h.writeSyncError(c, err)
		return
	}
	h.metrics.SyncCommands.Add(float64(res.Missing + res.Extra))
	c.JSON(http.StatusAccepted, gin.H{
		"missing":              res.Missing,
		"extra":                res.Extra,
		"syncHealthPercentage": res.Health,
	})
}

func (h *Handler) writeSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncengine.ErrDeviceOffline):
		c.JSON(http.StatusConflict, gin.H{"error": "device_offline"})
	case errors.Is(err, syncengine.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sync_in_progress"})
	case errors.Is(err, device.ErrUnknown):
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
	default:
		h.log.Error("sync trigger failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
	}
}
