package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ResponseData is the envelope of every API answer.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// apiError is an error that carries its HTTP status and code.
type apiError struct {
	status  int
	code    string
	message string
	err     error
}

func (e *apiError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *apiError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &apiError{status: fiber.StatusBadRequest, code: "VALIDATION_ERROR", message: msg, err: err}
}

func unauthorized(msg string) error {
	return &apiError{status: fiber.StatusUnauthorized, code: "UNAUTHORIZED", message: msg}
}

func bridgeUnavailable(err error) error {
	return &apiError{status: fiber.StatusServiceUnavailable, code: "BRIDGE_UNAVAILABLE", message: "bridge unavailable", err: err}
}

func bridgeFailed(msg string, err error) error {
	return &apiError{status: fiber.StatusBadGateway, code: "BRIDGE_ERROR", message: msg, err: err}
}

func internal(msg string, err error) error {
	return &apiError{status: fiber.StatusInternalServerError, code: "INTERNAL_SERVER_ERROR", message: msg, err: err}
}

func ok(c *fiber.Ctx, message string, results any) error {
	return c.JSON(ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: message,
		Results: results,
	})
}

// errorHandler renders any handler error as a ResponseData.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		res := ResponseData{
			Status:  fiber.StatusInternalServerError,
			Code:    "INTERNAL_SERVER_ERROR",
			Message: err.Error(),
		}
		var ae *apiError
		var fe *fiber.Error
		switch {
		case errors.As(err, &ae):
			res.Status, res.Code, res.Message = ae.status, ae.code, ae.Error()
		case errors.As(err, &fe):
			res.Status, res.Code, res.Message = fe.Code, "HTTP_ERROR", fe.Message
		}
		if res.Status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", res.Status),
				zap.Error(err))
		}
		return c.Status(res.Status).JSON(res)
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var ae *apiError
		if errors.As(err, &ae) {
			status = ae.status
		}
		logger.Debug("http request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()))
		return err
	}
}
