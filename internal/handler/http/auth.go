package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"collabrun/internal/authedge"
)

// AuthHandler exposes the optional edge-auth routes. Not part of the core contract
// (spec.md §6.1 lists no auth endpoints); mounted separately for deployments that want
// to authenticate a caller before handing their chosen userId to the core.
type AuthHandler struct {
	auth *authedge.Service
}

func NewAuthHandler(auth *authedge.Service) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: "+err.Error())
		return
	}
	userID, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"userId": userID})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: username and password required")
		return
	}
	token, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"token": token})
}
