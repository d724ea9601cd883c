package handler

import (
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/pkg/response"
)

type ResearchHandler struct {
	service   *service.ResearchService
	validator *validator.Validate
}

func NewResearchHandler(svc *service.ResearchService, v *validator.Validate) *ResearchHandler {
	return &ResearchHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/research/start
// Queues a research job and returns its id at once.
func (h *ResearchHandler) Start(c *fiber.Ctx) error {
	var req model.ResearchRequest
	if handled, err := bind(c, h.validator, &req); handled {
		return err
	}

	result, err := h.service.StartResearch(c.UserContext(), owner(c), req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/research/status/:jobId
func (h *ResearchHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), owner(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/research/result/:jobId
// Returns 202 NOT_READY until the job completes.
func (h *ResearchHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	result, err := h.service.GetResult(c.UserContext(), owner(c), jobID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, fiber.Map{
		"job_id": jobID,
		"status": model.ResearchStatusCompleted,
		"result": result,
	})
}

// Cancel handles POST /api/research/cancel/:jobId
func (h *ResearchHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), owner(c), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// History handles GET /api/research/history?status=&limit=
func (h *ResearchHandler) History(c *fiber.Ctx) error {
	jobs, err := h.service.History(c.UserContext(), owner(c), c.Query("status"), historyLimit(c))
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, fiber.Map{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// Download handles GET /api/research/download/:jobId/:fileType
// fileType is "findings" or "script_<audience>".
func (h *ResearchHandler) Download(c *fiber.Ctx) error {
	body, key, err := h.service.OpenFile(c.UserContext(), owner(c), c.Params("jobId"), c.Params("fileType"))
	if err != nil {
		return response.FromError(c, err)
	}

	c.Attachment(path.Base(key))
	contentType := "text/markdown; charset=utf-8"
	if strings.HasSuffix(key, ".json") {
		contentType = fiber.MIMEApplicationJSONCharsetUTF8
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.SendStream(body)
}
