package instrument

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware counts requests per matched route and times them.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < 400 {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		m.ObserveHTTP(c.Method(), route, status, time.Since(start))
		return err
	}
}

// Tracing starts a request span and puts inst in the request context.
func Tracing(inst Instrumenter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := WithInstrumenter(c.UserContext(), inst)
		ctx, span := inst.StartSpan(ctx, "http", "gateway", c.Method()+" "+c.Path())
		defer span.End()
		if rid, ok := c.Locals("requestid").(string); ok {
			span.SetMetadata("request_id", rid)
		}
		c.SetUserContext(ctx)

		err := c.Next()
		if err != nil || c.Response().StatusCode() >= 500 {
			span.SetStatus("error")
		}
		return err
	}
}
