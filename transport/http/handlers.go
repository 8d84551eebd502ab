package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/zklogin"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/service"
)

const maxTokenPayload = 64 << 10

// AuthHandlers contains HTTP handlers for login endpoints
type AuthHandlers struct {
	client       zklogin.Client
	awaitTimeout time.Duration
}

// NewAuthHandlers creates new login handlers
func NewAuthHandlers(client zklogin.Client, awaitTimeout time.Duration) *AuthHandlers {
	return &AuthHandlers{
		client:       client,
		awaitTimeout: awaitTimeout,
	}
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Begin starts a login session
func (h *AuthHandlers) Begin(c *gin.Context) {
	var req struct {
		Provider     string  `json:"provider" binding:"required"`
		EpochHorizon *uint64 `json:"epoch_horizon"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var opts []service.BeginOption
	if req.EpochHorizon != nil {
		opts = append(opts, service.WithEpochHorizon(*req.EpochHorizon))
	}

	res, err := h.client.Begin(c.Request.Context(), req.Provider, opts...)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":           res.SessionID,
		"provider":             res.Provider,
		"nonce":                res.Nonce,
		"epoch_horizon":        res.EpochHorizon,
		"ephemeral_public_key": res.EphemeralPublicKey,
		"expires_at":           res.ExpiresAt,
		"authorization_url":    res.Authorization.URL,
		"authorization_params": res.Authorization.Params,
	})
}

// Complete binds a token to a session and returns the account
func (h *AuthHandlers) Complete(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		JWT       string `json:"jwt" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	account, err := h.client.Complete(c.Request.Context(), req.SessionID, req.JWT)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// DeliverToken accepts the host payload carrying the identity token
func (h *AuthHandlers) DeliverToken(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTokenPayload))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.client.Bridge().Deliver(c.Request.Context(), c.Param("id"), payload); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// Account waits for the token to be delivered, then completes the session
func (h *AuthHandlers) Account(c *gin.Context) {
	ctx := c.Request.Context()
	if h.awaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.awaitTimeout)
		defer cancel()
	}

	account, err := h.client.AwaitAndComplete(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// Remove abandons a session
func (h *AuthHandlers) Remove(c *gin.Context) {
	if err := h.client.Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func respondError(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// errorStatus maps service errors to a status code and a client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrUnknownProvider):
		return http.StatusBadRequest, "Unknown provider"
	case errors.Is(err, core.ErrInvalidEpochHorizon):
		return http.StatusBadRequest, "Epoch horizon is not in the future"
	case errors.Is(err, core.ErrTokenIntake):
		return http.StatusBadRequest, "Malformed identity token"
	case errors.Is(err, core.ErrNonceMismatch):
		return http.StatusUnauthorized, "Identity token was not issued for this session"
	case errors.Is(err, core.ErrTokenExpired):
		return http.StatusUnauthorized, "Identity token expired"
	case errors.Is(err, core.ErrSessionExpired):
		return http.StatusGone, "Session expired"
	case errors.Is(err, core.ErrSessionNotPending):
		return http.StatusConflict, "Session is not pending"
	case errors.Is(err, core.ErrTokenAlreadyDelivered):
		return http.StatusConflict, "Token already delivered"
	case errors.Is(err, core.ErrProofRejected):
		return http.StatusUnprocessableEntity, "Proof rejected"
	case errors.Is(err, core.ErrProofServiceUnavailable), errors.Is(err, core.ErrEpochUnavailable):
		return http.StatusServiceUnavailable, "Upstream service unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timed out waiting for token"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
