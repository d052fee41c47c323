package helper

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/processor"
)

// StatusOf places err in the error taxonomy: fiber errors keep their code,
// processor errors map by their own type, missing rows are 404.
func StatusOf(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}
	var pe *processor.Error
	if errors.As(err, &pe) {
		return processor.Status(err), pe.Message
	}
	switch {
	case errors.Is(err, processor.ErrInvalidSignature):
		return fiber.StatusBadRequest, "invalid signature"
	case errors.Is(err, processor.ErrNoOpenInvoice):
		return fiber.StatusNotFound, "no open invoice"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound, "not found"
	}
	return fiber.StatusInternalServerError, "internal error"
}

// ErrorHandler is the app-wide fiber error handler. Raw errors never reach the client.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, msg := StatusOf(err)
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Any("request_id", c.Locals("requestid")),
				zap.Error(err),
			)
		}
		return JsonError(c, status, msg)
	}
}
