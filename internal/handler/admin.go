package handler

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/admission"
	"rollcall/internal/auth"
)

// ---------- Windows ----------

func (h *Handler) listWindows(c *gin.Context) {
	windows, err := h.records.ListWindows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if windows == nil {
		windows = []admission.Window{}
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

func (h *Handler) createWindow(c *gin.Context) {
	var req struct {
		SessionName string   `json:"session_name" binding:"required"`
		StartTime   string   `json:"start_time" binding:"required"`
		EndTime     string   `json:"end_time" binding:"required"`
		DaysActive  []string `json:"days_active"`
		Active      *bool    `json:"active_status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	w, err := h.records.CreateWindow(c.Request.Context(), admission.Window{
		SessionName: req.SessionName,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		DaysActive:  req.DaysActive,
		Active:      active,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.audit(c, "attendance_windows", w.ID, "create")
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) toggleWindow(c *gin.Context) {
	h.toggle(c, "attendance_windows", h.records.SetWindowActive)
}

// ---------- Locations ----------

func (h *Handler) listLocations(c *gin.Context) {
	fences, err := h.records.ListGeofences(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fences == nil {
		fences = []admission.Geofence{}
	}
	c.JSON(http.StatusOK, gin.H{"locations": fences})
}

func (h *Handler) createLocation(c *gin.Context) {
	var req struct {
		Name         string   `json:"name" binding:"required"`
		Latitude     *float64 `json:"latitude" binding:"required"`
		Longitude    *float64 `json:"longitude" binding:"required"`
		RadiusMeters float64  `json:"radius_m"`
		Active       *bool    `json:"active_status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinate out of range"})
		return
	}
	radius := req.RadiusMeters
	if radius <= 0 {
		radius = 50
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	g, err := h.records.CreateGeofence(c.Request.Context(), admission.Geofence{
		Name:         req.Name,
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		RadiusMeters: radius,
		Active:       active,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.audit(c, "locations", g.ID, "create")
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) toggleLocation(c *gin.Context) {
	h.toggle(c, "locations", h.records.SetGeofenceActive)
}

func (h *Handler) toggle(c *gin.Context, table string, set func(context.Context, string, bool) error) {
	var req struct {
		Active *bool `json:"active_status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := set(c.Request.Context(), id, *req.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	action := "deactivate"
	if *req.Active {
		action = "activate"
	}
	h.audit(c, table, id, action)
	c.JSON(http.StatusOK, gin.H{"id": id, "active_status": *req.Active})
}

// ---------- Students & reports ----------

func (h *Handler) listStudents(c *gin.Context) {
	profiles, err := h.profiles.ListProfiles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": profiles})
}

func (h *Handler) studentReport(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	p, err := h.profiles.GetByUserID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	limit, offset := pagination(c)
	records, err := h.records.History(ctx, id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []admission.Record{}
	}

	present, first, err := h.records.PresentDays(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	windows, err := h.records.ListWindows(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"student":      p,
		"records":      records,
		"present_days": present,
		"percentage":   admission.Percentage(windows, first, time.Now().In(h.cfg.Location()), present),
	})
}

func (h *Handler) listAudit(c *gin.Context) {
	limit, offset := pagination(c)
	entries, err := h.records.ListAudit(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []admission.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

// audit records an admin config mutation. The mutation has already
// succeeded; a failed audit write does not undo it.
func (h *Handler) audit(c *gin.Context, table, recordID, action string) {
	err := h.records.AppendAudit(c.Request.Context(), admission.AuditEntry{
		TableName:   table,
		RecordID:    recordID,
		Action:      action,
		PerformedBy: auth.CallerClaims(c).Subject,
	})
	if err != nil {
		log.Printf("audit append failed for %s %s: %v", table, recordID, err)
	}
}
