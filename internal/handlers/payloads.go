package handlers

import (
	"errors"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/codec"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// maxPayloadBytes bounds a payload submitted for validation
const maxPayloadBytes = 32 * 1024 * 1024

// PayloadValidation is the verdict on a bulk payload
type PayloadValidation struct {
	Valid     bool   `json:"valid"`
	ItemCount int    `json:"item_count"`
	Line      int    `json:"line,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PayloadHandler exposes the bulk payload codec
type PayloadHandler struct{}

func NewPayloadHandler() *PayloadHandler {
	return &PayloadHandler{}
}

// RegisterRoutes registers the payload routes
func (h *PayloadHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/payloads/validate", h.Validate)
}

// Validate handles POST /payloads/validate with a raw NdJSON body
func (h *PayloadHandler) Validate(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "PayloadHandler.Validate")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return BadRequest("failed to read request body")
	}

	return SuccessResponse(c, ValidatePayload(string(body)))
}

// ValidatePayload checks payload and counts its items
func ValidatePayload(payload string) PayloadValidation {
	result := PayloadValidation{ItemCount: codec.GetItemCount(payload)}

	err := codec.Validate(payload)
	if err == nil {
		result.Valid = true
		return result
	}

	result.Error = err.Error()
	var fe *codec.FormatError
	if errors.As(err, &fe) {
		result.Line = fe.Line
		result.Error = fe.Reason
	}
	return result
}
