package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/api/internal/middleware"
	"github.com/podforge/api/pkg/response"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Namespace()] = e.Tag()
		}
		return errors
	}
	return nil
}

// bind parses and validates the request body into req. On failure the error
// response has already been written and handled is true.
func bind(c *fiber.Ctx, v *validator.Validate, req interface{}) (handled bool, err error) {
	if err := c.BodyParser(req); err != nil {
		return true, response.ValidationError(c, "Invalid request body", nil)
	}
	if err := v.Struct(req); err != nil {
		return true, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return false, nil
}

func historyLimit(c *fiber.Ctx) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func owner(c *fiber.Ctx) string {
	return middleware.GetUserID(c)
}
