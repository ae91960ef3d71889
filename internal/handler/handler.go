// Package handler exposes the classroom and account services over HTTP.
package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liveclass/internal/account"
	"liveclass/internal/auth"
	"liveclass/internal/classroom"
	"liveclass/internal/export"
	"liveclass/internal/model"
)

const maxAvatarBytes = 5 << 20

type Handler struct {
	classes  *classroom.Service
	accounts *account.Service
	logger   *zap.Logger
}

func New(classes *classroom.Service, accounts *account.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{classes: classes, accounts: accounts, logger: logger}
}

// Register mounts the API under /api. authn guards every route except register and login.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	api := r.Group("/api")
	{
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)
	}

	priv := api.Group("", authn)
	{
		priv.GET("/auth/me", h.me)
		priv.POST("/users/me/avatar", h.uploadAvatar)

		priv.POST("/session/create", h.createSession)
		priv.GET("/session", h.listSessions)
		priv.GET("/session/:id", h.getSession)
		priv.PUT("/session/:id", h.updateSession)
		priv.POST("/session/:id/join", h.joinSession)
		priv.POST("/session/:id/leave", h.leaveSession)
		priv.GET("/session/:id/roster.xlsx", h.exportRoster)

		priv.POST("/rooms/:sessionId", h.createRoom)
		priv.GET("/rooms/:sessionId", h.getRoom)
		priv.POST("/rooms/:sessionId/end", h.endRoom)
		priv.POST("/token/:sessionId", h.token)
	}
}

// ---------- Accounts ----------

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	sess, err := h.accounts.Register(c.Request.Context(), account.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		h.fail(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	sess, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.accounts.Me(auth.CurrentUser(c))
	if err != nil {
		h.fail(c, "me", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// uploadAvatar accepts a multipart "file" field or a JSON {"data": "<data URL>"} body.
func (h *Handler) uploadAvatar(c *gin.Context) {
	var img account.Image
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			badRequest(c, "file field required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxAvatarBytes+1))
		if err != nil {
			badRequest(c, "read file failed")
			return
		}
		if len(data) > maxAvatarBytes {
			badRequest(c, "file too large")
			return
		}
		img = account.Image{Data: data, Filename: header.Filename}
	} else {
		var body struct {
			Data string `json:"data"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, `provide {"data": "<base64 data URL>"}`)
			return
		}
		img = account.Image{DataURL: body.Data}
	}
	u, err := h.accounts.SetProfilePicture(c.Request.Context(), auth.CurrentUser(c), img)
	if err != nil {
		h.fail(c, "upload_avatar", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ---------- Sessions ----------

type createSessionRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	StartTime   *time.Time `json:"startTime"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	sess, err := h.classes.CreateSession(c.Request.Context(), auth.CurrentUser(c), classroom.CreateSessionInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
	})
	if err != nil {
		h.fail(c, "create_session", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) listSessions(c *gin.Context) {
	list, err := h.classes.ListSessions(c.Request.Context(), auth.CurrentUser(c), classroom.ListFilter{
		Status:    c.Query("status"),
		TeacherID: c.Query("teacherId"),
		Upcoming:  c.Query("upcoming") == "true",
		Past:      c.Query("past") == "true",
	})
	if err != nil {
		h.fail(c, "list_sessions", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) getSession(c *gin.Context) {
	d, err := h.classes.GetSession(c.Request.Context(), auth.CurrentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get_session", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type updateSessionRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	StartTime   *time.Time `json:"startTime"`
	Status      *string    `json:"status"`
}

func (h *Handler) updateSession(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	in := classroom.UpdateSessionInput{Title: req.Title, Description: req.Description, StartTime: req.StartTime}
	if req.Status != nil {
		st := model.Status(*req.Status)
		in.Status = &st
	}
	sess, err := h.classes.UpdateSession(c.Request.Context(), auth.CurrentUser(c), c.Param("id"), in)
	if err != nil {
		h.fail(c, "update_session", err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) joinSession(c *gin.Context) {
	p, created, err := h.classes.Join(c.Request.Context(), auth.CurrentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, "join_session", err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"message": "You are already a participant in this session", "participant": p})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Successfully joined the session", "participant": p})
}

func (h *Handler) leaveSession(c *gin.Context) {
	if err := h.classes.Leave(c.Request.Context(), auth.CurrentUser(c), c.Param("id")); err != nil {
		h.fail(c, "leave_session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully left the session"})
}

func (h *Handler) exportRoster(c *gin.Context) {
	d, err := h.classes.Roster(c.Request.Context(), auth.CurrentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, "export_roster", err)
		return
	}
	data, err := export.Roster(d)
	if err != nil {
		h.fail(c, "export_roster", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.RosterFilename(d)+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// ---------- Rooms ----------

func (h *Handler) createRoom(c *gin.Context) {
	room, sess, err := h.classes.CreateRoom(c.Request.Context(), auth.CurrentUser(c), c.Param("sessionId"))
	if err != nil {
		h.fail(c, "create_room", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Room created successfully",
		"room": gin.H{
			"name":            room.Name,
			"emptyTimeout":    int(room.EmptyTimeout / time.Second),
			"maxParticipants": room.MaxParticipants,
			"creationTime":    room.CreationTime,
		},
		"session": sess,
	})
}

func (h *Handler) getRoom(c *gin.Context) {
	d, err := h.classes.GetRoomDetails(c.Request.Context(), auth.CurrentUser(c), c.Param("sessionId"))
	if err != nil {
		h.fail(c, "get_room", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) endRoom(c *gin.Context) {
	sess, err := h.classes.EndRoom(c.Request.Context(), auth.CurrentUser(c), c.Param("sessionId"))
	if err != nil {
		h.fail(c, "end_room", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room ended successfully", "session": sess})
}

type tokenRequest struct {
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) token(c *gin.Context) {
	var req tokenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "Invalid request body")
			return
		}
	}
	tok, err := h.classes.GenerateToken(c.Request.Context(), auth.CurrentUser(c), c.Param("sessionId"), req.Metadata)
	if err != nil {
		h.fail(c, "generate_token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}
