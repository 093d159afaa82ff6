package engine

import "github.com/gofiber/fiber/v2"

func RegisterFunctionRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api/functions", middleware...)

	api.Get("/", h.List)
	api.Get("/:function", h.Call)
	api.Post("/:function", h.Call)
}
