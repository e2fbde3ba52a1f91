package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/conn"
)

type entityReader interface {
	List(kinds ...domain.EntityKind) []domain.TrackedEntity
	Lookup(id string) (domain.TrackedEntity, bool)
}

type entityResetter interface {
	ClearEntities(ctx context.Context, kinds ...domain.EntityKind) (int, error)
}

type statusReader interface {
	Status(ctx context.Context, deviceID string) (domain.DeviceStatus, bool, error)
}

type feedConnection interface {
	ClientID() string
	Endpoint() string
	CurrentState() conn.State
	Send(cmd domain.Command) error
}

type entityResponse struct {
	domain.TrackedEntity
	Status *domain.DeviceStatus `json:"status,omitempty"`
}

type connectionResponse struct {
	ClientID string `json:"client_id"`
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
}

type registerRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	DeviceType string `json:"device_type" binding:"required"`
	CaseID     string `json:"case_id" binding:"required"`
}

type TrackingHandler struct {
	entities entityReader
	resetter entityResetter
	status   statusReader
	feed     feedConnection
	logger   *slog.Logger
}

func NewTrackingHandler(entities entityReader, resetter entityResetter, status statusReader, feed feedConnection, logger *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		entities: entities,
		resetter: resetter,
		status:   status,
		feed:     feed,
		logger:   logger,
	}
}

func (h *TrackingHandler) Register(r *gin.RouterGroup) {
	r.GET("/entities", h.ListEntities)
	r.GET("/entities/:entity_id", h.GetEntity)
	r.DELETE("/entities", h.ClearEntities)
	r.GET("/connection", h.GetConnection)
	r.POST("/devices/register", h.RegisterDevice)
}

func (h *TrackingHandler) ListEntities(c *gin.Context) {
	kinds, ok := parseKinds(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.entities.List(kinds...))
}

func (h *TrackingHandler) GetEntity(c *gin.Context) {
	id := c.Param("entity_id")

	e, ok := h.entities.Lookup(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
		return
	}

	resp := entityResponse{TrackedEntity: e}
	if e.Kind == domain.KindDevice {
		st, found, err := h.status.Status(c.Request.Context(), id)
		if err != nil {
			h.logger.Warn("device status lookup", "device_id", id, "error", err)
		} else if found {
			resp.Status = &st
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TrackingHandler) ClearEntities(c *gin.Context) {
	kinds, ok := parseKinds(c)
	if !ok {
		return
	}

	n, err := h.resetter.ClearEntities(c.Request.Context(), kinds...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking loop unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (h *TrackingHandler) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, connectionResponse{
		ClientID: h.feed.ClientID(),
		Endpoint: h.feed.Endpoint(),
		State:    h.feed.CurrentState().String(),
	})
}

func (h *TrackingHandler) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.feed.Send(domain.NewRegisterDevice(req.DeviceID, req.DeviceType, req.CaseID))
	switch {
	case errors.Is(err, conn.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking feed not connected"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send registration"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"device_id": req.DeviceID, "status": "sent"})
}

// parseKinds reads the optional ?kind= filter. It writes a 400 and
// returns false on an unknown kind.
func parseKinds(c *gin.Context) ([]domain.EntityKind, bool) {
	kind := c.Query("kind")
	switch domain.EntityKind(kind) {
	case "":
		return nil, true
	case domain.KindDevice, domain.KindPOI:
		return []domain.EntityKind{domain.EntityKind(kind)}, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind parameter"})
		return nil, false
	}
}
