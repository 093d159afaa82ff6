package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// ClientKey is the fiber local holding the authenticated *metadata.Client.
const ClientKey = "client"

// Handler exposes functions over HTTP.
type Handler struct {
	gateway   *Gateway
	formatter *ResponseFormatter
	logger    *slog.Logger
}

func NewHandler(gw *Gateway, formatter *ResponseFormatter, logger *slog.Logger) *Handler {
	return &Handler{
		gateway:   gw,
		formatter: formatter,
		logger:    logging.OrDiscard(logger).With("component", "handler"),
	}
}

// Call handles POST and GET /api/functions/:function. POST reads a JSON
// object body, GET reads the query string.
func (h *Handler) Call(c *fiber.Ctx) error {
	functionID := c.Params("function")
	meta := Meta{RequestID: RequestID(c), Function: functionID}

	client := ClientFrom(c)
	if client == nil {
		return h.respondError(c, UnauthenticatedError("Missing client credentials"), meta)
	}

	params, err := requestParams(c)
	if err != nil {
		return h.respondError(c, err, meta)
	}

	res, err := h.gateway.Call(c.UserContext(), *client, functionID, params)
	if err != nil {
		return h.respondError(c, err, meta)
	}

	meta.ConfigVersion = res.ConfigVersion
	return c.Status(fiber.StatusOK).JSON(h.formatter.Success(res.Data, res.ExecutionTime, meta))
}

// List handles GET /api/functions.
func (h *Handler) List(c *fiber.Ctx) error {
	meta := Meta{RequestID: RequestID(c)}

	client := ClientFrom(c)
	if client == nil {
		return h.respondError(c, UnauthenticatedError("Missing client credentials"), meta)
	}

	fns, err := h.gateway.Functions(c.UserContext(), *client)
	if err != nil {
		return h.respondError(c, err, meta)
	}
	meta.ConfigVersion = h.gateway.Registry().Snapshot().Version
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fns,
		"meta":    meta,
	})
}

func (h *Handler) respondError(c *fiber.Ctx, err error, meta Meta) error {
	status, body := h.formatter.Error(err, meta)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", meta.RequestID,
			"function", meta.Function,
			"code", body.Error.Code,
			"error", err)
	}
	return c.Status(status).JSON(body)
}

func requestParams(c *fiber.Ctx) (map[string]any, error) {
	params := map[string]any{}
	if c.Method() == fiber.MethodGet {
		for k, v := range c.Queries() {
			params[k] = v
		}
		return params, nil
	}
	if len(c.Body()) == 0 {
		return params, nil
	}
	if !c.Is("json") && c.Get(fiber.HeaderContentType) != "" {
		if err := c.BodyParser(&params); err != nil {
			return nil, NewAppError(CodeInvalidPayload, fiber.StatusBadRequest, "Invalid request body")
		}
		return params, nil
	}
	params, err := decodeBody(c.Body())
	if err != nil {
		return nil, NewAppError(CodeInvalidPayload, fiber.StatusBadRequest, "Invalid JSON body")
	}
	return params, nil
}

// decodeBody decodes a JSON object without routing numbers through
// float64: integral numbers become int64, others float64.
func decodeBody(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON object")
	}
	if params == nil {
		params = map[string]any{}
	}
	for k, v := range params {
		params[k] = exactNumbers(v)
	}
	return params, nil
}

func exactNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		// out of range; casting reports it
		return val.String()
	case map[string]any:
		for k, e := range val {
			val[k] = exactNumbers(e)
		}
	case []any:
		for i, e := range val {
			val[i] = exactNumbers(e)
		}
	}
	return v
}

// ClientFrom returns the authenticated client, or nil.
func ClientFrom(c *fiber.Ctx) *metadata.Client {
	client, _ := c.Locals(ClientKey).(*metadata.Client)
	return client
}

// RequestID returns the id set by the requestid middleware, the inbound
// X-Request-ID header, or a fresh uuid.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// ErrorHandler renders errors that escape handlers and middleware in the
// same envelope as function failures.
func ErrorHandler(formatter *ResponseFormatter, logger *slog.Logger) fiber.ErrorHandler {
	logger = logging.OrDiscard(logger)
	return func(c *fiber.Ctx, err error) error {
		status, body := formatter.Error(err, Meta{RequestID: RequestID(c)})
		if status >= fiber.StatusInternalServerError {
			logger.Error("unhandled error", "path", c.Path(), "error", err)
		}
		return c.Status(status).JSON(body)
	}
}
