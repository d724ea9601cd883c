package handler

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/pkg/response"
)

type ProductionHandler struct {
	service   *service.ProductionService
	validator *validator.Validate
}

func NewProductionHandler(svc *service.ProductionService, v *validator.Validate) *ProductionHandler {
	return &ProductionHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/production/start
// Creates a job waiting for voice assignments and lists the characters.
func (h *ProductionHandler) Start(c *fiber.Ctx) error {
	var req model.StartProductionRequest
	if handled, err := bind(c, h.validator, &req); handled {
		return err
	}

	result, err := h.service.StartProduction(c.UserContext(), owner(c), req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, result)
}

// GenerateSegments handles POST /api/production/generate-segments/:jobId
func (h *ProductionHandler) GenerateSegments(c *fiber.Ctx) error {
	var req model.GenerateSegmentsRequest
	if handled, err := bind(c, h.validator, &req); handled {
		return err
	}

	result, err := h.service.AssignVoices(c.UserContext(), owner(c), c.Params("jobId"), req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/production/status/:jobId
func (h *ProductionHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), owner(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Timeline handles GET /api/production/timeline/:jobId
func (h *ProductionHandler) Timeline(c *fiber.Ctx) error {
	result, err := h.service.GetTimeline(c.UserContext(), owner(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// UpdateTimeline handles PUT /api/production/timeline/:jobId
// The body replaces the whole timeline.
func (h *ProductionHandler) UpdateTimeline(c *fiber.Ctx) error {
	var req model.UpdateTimelineRequest
	if handled, err := bind(c, h.validator, &req); handled {
		return err
	}

	result, err := h.service.UpdateTimeline(c.UserContext(), owner(c), c.Params("jobId"), req.Timeline)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Export handles POST /api/production/export/:jobId
// An empty body exports MP3 at high quality.
func (h *ProductionHandler) Export(c *fiber.Ctx) error {
	var opts model.ExportOptions
	if len(c.Body()) > 0 {
		if handled, err := bind(c, h.validator, &opts); handled {
			return err
		}
	}

	result, err := h.service.Export(c.UserContext(), owner(c), c.Params("jobId"), opts)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Result handles GET /api/production/result/:jobId
func (h *ProductionHandler) Result(c *fiber.Ctx) error {
	result, err := h.service.GetExport(c.UserContext(), owner(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Download handles GET /api/production/download/:jobId
func (h *ProductionHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	body, artifact, err := h.service.OpenExport(c.UserContext(), owner(c), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	c.Attachment(fmt.Sprintf("podcast_%s.%s", jobID, artifact.Format))
	return c.SendStream(body)
}

// SegmentAudio handles GET /api/production/audio/:jobId/:segmentId
func (h *ProductionHandler) SegmentAudio(c *fiber.Ctx) error {
	body, err := h.service.OpenSegment(c.UserContext(), owner(c), c.Params("jobId"), c.Params("segmentId"))
	if err != nil {
		return response.FromError(c, err)
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	return c.SendStream(body)
}

// Cancel handles POST /api/production/cancel/:jobId
func (h *ProductionHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), owner(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// History handles GET /api/production/history?status=&limit=
func (h *ProductionHandler) History(c *fiber.Ctx) error {
	jobs, err := h.service.History(c.UserContext(), owner(c), c.Query("status"), historyLimit(c))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, fiber.Map{
		"jobs":  jobs,
		"total": len(jobs),
	})
}
