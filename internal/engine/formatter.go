package engine

import (
	"math"
	"time"
)

// Meta is attached to every response.
type Meta struct {
	Timestamp     string   `json:"timestamp"`
	ExecutionTime *float64 `json:"execution_time,omitempty"` // seconds
	RequestID     string   `json:"request_id,omitempty"`
	Function      string   `json:"function,omitempty"`
	ConfigVersion uint64   `json:"config_version,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    Meta `json:"meta"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *AppError `json:"error"`
	Meta    Meta      `json:"meta"`
}

// ResponseFormatter renders results and errors into the JSON contract.
type ResponseFormatter struct {
	debug bool
	now   func() time.Time
}

func NewResponseFormatter(debug bool) *ResponseFormatter {
	return &ResponseFormatter{debug: debug, now: time.Now}
}

func (f *ResponseFormatter) Debug() bool { return f.debug }

func (f *ResponseFormatter) timestamp() string {
	return f.now().UTC().Format(time.RFC3339)
}

// Success wraps data. meta is filled in place: Timestamp and ExecutionTime
// are set here.
func (f *ResponseFormatter) Success(data any, elapsed time.Duration, meta Meta) SuccessResponse {
	meta.Timestamp = f.timestamp()
	secs := RoundSeconds(elapsed)
	meta.ExecutionTime = &secs
	return SuccessResponse{Success: true, Data: data, Meta: meta}
}

// Error converts err and returns the HTTP status alongside the body.
func (f *ResponseFormatter) Error(err error, meta Meta) (int, ErrorResponse) {
	appErr := ToAppError(err, f.debug)
	meta.Timestamp = f.timestamp()
	meta.ExecutionTime = nil
	return appErr.Status, ErrorResponse{Success: false, Error: appErr, Meta: meta}
}

// RoundSeconds renders d in seconds with four decimal places.
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e4) / 1e4
}
