package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hlsforge/build-service/internal/api/dto"
	"github.com/hlsforge/build-service/internal/job"
)

// GetAccount handles GET /api/v1/accounts/:user_id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	userID := c.Param("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a valid UUID"})
		return
	}

	acct, err := h.billing.Account(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, job.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.logger.Error("Failed to load account", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}

	c.JSON(http.StatusOK, dto.AccountResponse{
		UserID:      acct.ID,
		Username:    acct.Username,
		Admin:       acct.Admin,
		Active:      acct.Active,
		Balance:     acct.Balance,
		PendingJobs: acct.PendingJobs,
	})
}

// Capture handles POST /api/v1/accounts/:user_id/captures
// Records an upstream payment capture and credits the balance.
func (h *AccountHandler) Capture(c *gin.Context) {
	userID := c.Param("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a valid UUID"})
		return
	}

	var req dto.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if _, err := h.billing.Account(c.Request.Context(), userID); err != nil {
		if errors.Is(err, job.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.logger.Error("Failed to load account", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}

	tx := &job.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    req.Amount,
		ChargeRef: req.ChargeRef,
		CreatedAt: time.Now(),
	}

	if err := h.billing.Capture(c.Request.Context(), tx); err != nil {
		if errors.Is(err, job.ErrInvalidSubmission) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to capture payment", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to capture payment"})
		return
	}

	c.JSON(http.StatusCreated, dto.TransactionDTO{
		ID:        tx.ID,
		UserID:    tx.UserID,
		Amount:    tx.Amount,
		ChargeRef: tx.ChargeRef,
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	})
}

// ListTransactions handles GET /api/v1/accounts/:user_id/transactions
func (h *AccountHandler) ListTransactions(c *gin.Context) {
	userID := c.Param("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a valid UUID"})
		return
	}

	txs, err := h.billing.Transactions(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list transactions", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list transactions"})
		return
	}

	response := make([]dto.TransactionDTO, len(txs))
	for i, tx := range txs {
		response[i] = dto.TransactionDTO{
			ID:        tx.ID,
			UserID:    tx.UserID,
			Amount:    tx.Amount,
			ChargeRef: tx.ChargeRef,
			CreatedAt: tx.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"transactions": response})
}
