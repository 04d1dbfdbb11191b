// Package handler wires the HTTP surface: auth, attendance marking and
// history for students, configuration and reporting for admins.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rollcall/internal/admission"
	"rollcall/internal/auth"
	"rollcall/internal/cloudinary"
	"rollcall/internal/config"
	"rollcall/internal/faceverify"
	"rollcall/internal/queue"
	"rollcall/internal/registry"
)

// Handler holds the dependencies shared by all routes.
type Handler struct {
	cfg      config.App
	accounts *registry.Service
	profiles *registry.Repository
	admitter *admission.Service
	records  *admission.Repository
	q        queue.Queue
	cdn      *cloudinary.Client // nil when Cloudinary is not configured
	faces    *faceverify.Client
}

// New creates a handler.
func New(cfg config.App, accounts *registry.Service, profiles *registry.Repository,
	admitter *admission.Service, records *admission.Repository,
	q queue.Queue, cdn *cloudinary.Client, faces *faceverify.Client) *Handler {
	return &Handler{
		cfg:      cfg,
		accounts: accounts,
		profiles: profiles,
		admitter: admitter,
		records:  records,
		q:        q,
		cdn:      cdn,
		faces:    faces,
	}
}

// Routes registers every endpoint on the router.
func (h *Handler) Routes(r *gin.Engine) {
	r.POST("/v1/auth/register", h.register)
	r.POST("/v1/auth/login", h.login)

	authed := r.Group("/v1", auth.RequireAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	authed.POST("/attendance", h.markAttendance)
	authed.GET("/attendance/history", h.history)
	authed.GET("/profile", h.profile)
	authed.POST("/profile/photo", h.uploadPhoto)

	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/windows", h.listWindows)
	admin.POST("/windows", h.createWindow)
	admin.PATCH("/windows/:id", h.toggleWindow)
	admin.GET("/locations", h.listLocations)
	admin.POST("/locations", h.createLocation)
	admin.PATCH("/locations/:id", h.toggleLocation)
	admin.GET("/students", h.listStudents)
	admin.GET("/students/:id/report", h.studentReport)
	admin.GET("/audit", h.listAudit)
}

// ---------- Auth ----------

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		Email      string `json:"email" binding:"required,email"`
		RollNumber string `json:"roll_number"`
		Password   string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.accounts.Register(c.Request.Context(), req.Name, req.Email, req.RollNumber, req.Password)
	if err != nil {
		if errors.Is(err, registry.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := auth.Issue(p.UserID, auth.RoleStudent, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	_ = h.profiles.SaveRefreshToken(c.Request.Context(), p.UserID, tokens.RefreshToken, tokens.RefreshExp)

	c.JSON(http.StatusCreated, gin.H{
		"profile":       p,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email             string `json:"email" binding:"required"`
		Password          string `json:"password" binding:"required"`
		DeviceFingerprint string `json:"device_fingerprint"`
		DeviceName        string `json:"device_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, role, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password, req.DeviceFingerprint, req.DeviceName)
	if err != nil {
		if errors.Is(err, registry.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	tokens, err := auth.Issue(p.UserID, role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	_ = h.profiles.SaveRefreshToken(c.Request.Context(), p.UserID, tokens.RefreshToken, tokens.RefreshExp)

	c.JSON(http.StatusOK, gin.H{
		"profile":       p,
		"role":          role,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Attendance ----------

func (h *Handler) markAttendance(c *gin.Context) {
	var body struct {
		StudentID          string   `json:"student_id"`
		SessionType        string   `json:"session_type"`
		Latitude           *float64 `json:"latitude"`
		Longitude          *float64 `json:"longitude"`
		VerificationMethod string   `json:"verification_method"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Absent coordinates become NaN so the pipeline's field gate rejects
	// them; zero would be a legitimate coordinate.
	req := admission.Request{
		StudentID:          body.StudentID,
		SessionType:        body.SessionType,
		Latitude:           math.NaN(),
		Longitude:          math.NaN(),
		VerificationMethod: body.VerificationMethod,
	}
	if body.Latitude != nil {
		req.Latitude = *body.Latitude
	}
	if body.Longitude != nil {
		req.Longitude = *body.Longitude
	}

	claims := auth.CallerClaims(c)
	rec, err := h.admitter.Admit(c.Request.Context(), claims.Subject, req)
	if err != nil {
		status, kind := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}

	payload, _ := json.Marshal(admission.AdmittedEvent{
		RecordID:    rec.ID,
		StudentID:   rec.StudentID,
		SessionType: rec.SessionType,
	})
	if err := h.q.Publish(c.Request.Context(), queue.Message{Type: "admitted", Body: payload}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"session_type": rec.SessionType,
		"record":       rec,
	})
}

func (h *Handler) history(c *gin.Context) {
	claims := auth.CallerClaims(c)
	limit, offset := pagination(c)
	records, err := h.records.History(c.Request.Context(), claims.Subject, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []admission.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ---------- Profile ----------

func (h *Handler) profile(c *gin.Context) {
	claims := auth.CallerClaims(c)
	p, err := h.profiles.GetByUserID(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	devices, err := h.profiles.DevicesFor(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p, "devices": devices})
}

// uploadPhoto stores the profile photo in Cloudinary and enrolls the face
// with the recognition service.
func (h *Handler) uploadPhoto(c *gin.Context) {
	if h.cdn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read photo failed"})
		return
	}

	result, err := h.cdn.UploadBytes(data, header.Filename)
	if err != nil {
		log.Printf("cloudinary upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "photo upload failed"})
		return
	}

	claims := auth.CallerClaims(c)
	if err := h.profiles.SetPhotoURL(c.Request.Context(), claims.Subject, result.SecureURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save photo failed"})
		return
	}

	enrolled := false
	if h.faces != nil {
		if res, err := h.faces.Enroll(c.Request.Context(), claims.Subject, result.SecureURL); err != nil {
			// Enrollment can be retried by re-uploading the photo.
			log.Printf("face enroll failed for user %s: %v", claims.Subject, err)
		} else {
			enrolled = res.Success
		}
	}

	c.JSON(http.StatusOK, gin.H{"photo_url": result.SecureURL, "face_enrolled": enrolled})
}

// ---------- Helpers ----------

// statusFor maps an admission error to an HTTP status and its kind label.
func statusFor(err error) (int, string) {
	var aerr *admission.Error
	if !errors.As(err, &aerr) {
		return http.StatusInternalServerError, string(admission.KindCommitFailed)
	}
	switch aerr.Kind {
	case admission.KindInvalidRequest, admission.KindOutsideWindow, admission.KindLocationOutOfRange:
		return http.StatusBadRequest, string(aerr.Kind)
	case admission.KindIdentityMismatch:
		return http.StatusForbidden, string(aerr.Kind)
	case admission.KindDuplicate:
		return http.StatusConflict, string(aerr.Kind)
	default:
		return http.StatusServiceUnavailable, string(aerr.Kind)
	}
}

func pagination(c *gin.Context) (int, int) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}
