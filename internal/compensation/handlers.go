package compensation

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-compensation/internal/types"
	"github.com/ksred/klear-compensation/pkg/response"
)

// GinHandlers contains HTTP handlers for optimization and match endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for compensation endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// EvaluateHandler handles POST requests running the engine over inline participants
func (h *GinHandlers) EvaluateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := EvaluateRequest{Configuration: h.service.DefaultConfiguration()}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.service.Evaluate(c.Request.Context(), &req)
		response.Handle(c, result, err)
	}
}

// CreateRunHandler handles POST requests running the engine over the registry
// Requires the Idempotency-Key header
func (h *GinHandlers) CreateRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		req := RunRequest{Configuration: h.service.DefaultConfiguration()}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, "Invalid request body")
				return
			}
		}

		run, err := h.service.CreateRun(c.Request.Context(), &req, idempotencyKey)
		response.Handle(c, run, err)
	}
}

// GetRunHandler handles GET requests for a persisted run
// URL parameter: run_id
func (h *GinHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := h.service.GetRun(c.Param("run_id"))
		response.Handle(c, run, err)
	}
}

// GetMatchHandler handles GET requests for a persisted match
// URL parameter: match_id
func (h *GinHandlers) GetMatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		match, err := h.service.GetMatch(c.Param("match_id"))
		response.Handle(c, match, err)
	}
}

// ExecuteMatchHandler handles POST requests committing a proposed match
// URL parameter: match_id
func (h *GinHandlers) ExecuteMatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		match, err := h.service.ExecuteMatch(c.Param("match_id"))
		response.Handle(c, match, err)
	}
}

type stepUpdateRequest struct {
	Status types.StepStatus `json:"status" binding:"required"`
}

// UpdateStepHandler handles PATCH requests changing a schedule step status
// URL parameters: match_id, order
func (h *GinHandlers) UpdateStepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := strconv.Atoi(c.Param("order"))
		if err != nil {
			response.BadRequest(c, "Step order must be an integer")
			return
		}

		var req stepUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		match, err := h.service.UpdateStep(c.Param("match_id"), order, req.Status)
		response.Handle(c, match, err)
	}
}
