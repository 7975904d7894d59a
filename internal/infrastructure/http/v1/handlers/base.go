// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"prodlog/internal/core/apperror"
	appctx "prodlog/internal/core/context"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/infrastructure/http/v1/dto"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the Gin context and aborts the request.
// The JSON response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Period parses the :year and :month path parameters.
func (h *BaseHandler) Period(c *gin.Context) (types.Period, bool) {
	year, errY := strconv.Atoi(c.Param("year"))
	month, errM := strconv.Atoi(c.Param("month"))
	if errY != nil || errM != nil {
		h.Error(c, apperror.NewValidation("invalid period").
			WithDetail("year", c.Param("year")).
			WithDetail("month", c.Param("month")))
		return types.Period{}, false
	}
	p, err := types.NewPeriod(year, month)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return types.Period{}, false
	}
	return p, true
}

// Session builds the ledger session from the path period and the
// authenticated user.
func (h *BaseHandler) Session(c *gin.Context) (ledger.Session, bool) {
	p, ok := h.Period(c)
	if !ok {
		return ledger.Session{}, false
	}
	user := appctx.GetUser(c.Request.Context())
	if user == nil {
		h.Error(c, apperror.NewUnauthorized("authentication required"))
		return ledger.Session{}, false
	}
	return ledger.Session{Period: p, User: user.DisplayName()}, true
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// Success sends success response.
func (h *BaseHandler) Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: message})
}
