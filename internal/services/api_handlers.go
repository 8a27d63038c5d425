package services

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"styler/types"
)

func (a *Api) Health() fiber.Handler {
	return func(ctx *fiber.Ctx) error {

		return ctx.Status(fiber.StatusOK).JSON(types.HealthResponse{
			Status:    fiber.StatusOK,
			TimeStamp: time.Now().Unix(),
			Provider:  a.provider,
		})
	}
}

func (a *Api) ListStyles() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		styles := make([]types.StyleView, 0, len(a.catalog))
		for _, s := range a.catalog {
			styles = append(styles, styleView(s))
		}
		return ctx.Status(fiber.StatusOK).JSON(types.StylesResponse{Styles: styles})
	}
}

func errorResponse(ctx *fiber.Ctx, status int, err, message string) error {
	return ctx.Status(status).JSON(types.ErrorResponse{
		Error:   err,
		Message: message,
	})
}
