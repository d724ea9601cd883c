package response

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/podforge/api/internal/apperr"
)

// Error codes
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeNotReady             = "NOT_READY"
	CodeInvalidState         = "INVALID_STATE"
	CodeConflict             = "CONFLICT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeJobFailed            = "JOB_FAILED"
	CodeCancelled            = "CANCELLED"
	CodeProviderError        = "PROVIDER_ERROR"
	CodeNoVoicesAvailable    = "NO_VOICES_AVAILABLE"
	CodeGeneratorUnavailable = "GENERATOR_UNAVAILABLE"
	CodeAIError              = "AI_ERROR"
	CodeServiceError         = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// FromError writes the envelope for err. Unclassified errors become a 500
// without exposing the cause.
func FromError(c *fiber.Ctx, err error) error {
	var noVoices *apperr.NoVoicesAvailable
	if errors.As(err, &noVoices) {
		return Error(c, fiber.StatusNotFound, CodeNoVoicesAvailable, noVoices.Error(), noVoices)
	}

	var provErr *apperr.ProviderError
	if errors.As(err, &provErr) {
		return Error(c, fiber.StatusBadGateway, CodeProviderError, provErr.Error(), fiber.Map{
			"provider":    provErr.Provider,
			"status_code": provErr.StatusCode,
		})
	}

	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		log.Printf("[HTTP] unhandled error: %v", err)
		return ServiceError(c, "Internal server error")
	}

	switch appErr.Code {
	case apperr.CodeValidation:
		details := appErr.Details
		if details == nil && appErr.Field != "" {
			details = map[string]string{appErr.Field: appErr.Message}
		}
		return ValidationError(c, appErr.Message, details)
	case apperr.CodeNotFound:
		return NotFound(c, appErr.Message)
	case apperr.CodeNotReady:
		return Error(c, fiber.StatusAccepted, CodeNotReady, appErr.Message, appErr.Details)
	case apperr.CodeInvalidState:
		return Error(c, fiber.StatusConflict, CodeInvalidState, appErr.Message, appErr.Details)
	case apperr.CodeConflict:
		return Error(c, fiber.StatusConflict, CodeConflict, appErr.Message, appErr.Details)
	case apperr.CodeCancelled:
		return Error(c, fiber.StatusConflict, CodeCancelled, appErr.Message, nil)
	case apperr.CodeGeneratorUnavailable:
		return Error(c, fiber.StatusServiceUnavailable, CodeGeneratorUnavailable, appErr.Message, nil)
	case apperr.CodeGenerator, apperr.CodePartialUnitFailure:
		return AIError(c, appErr.Error())
	case apperr.CodeProvider:
		return Error(c, fiber.StatusBadGateway, CodeProviderError, appErr.Error(), appErr.Details)
	}

	log.Printf("[HTTP] internal error: %v", err)
	return ServiceError(c, appErr.Message)
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func AIError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeAIError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
