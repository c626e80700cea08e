package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type BaseResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func SuccessResponse[T any](message string, data T) BaseResponse[T] {
	return BaseResponse[T]{Success: true, Message: message, Data: data}
}

func ErrorResponse(err string) BaseResponse[any] {
	return BaseResponse[any]{Success: false, Error: err}
}

// ErrorHandlerMiddleware renders errors returned by later handlers as a
// BaseResponse with the matching status code.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := fiber.StatusInternalServerError
		message := "internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}
		return ctx.Status(code).JSON(ErrorResponse(message))
	}
}
