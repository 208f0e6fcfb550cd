package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeValidationError  = "https://api.orderflow.io/problems/validation-error"
	TypeNotFound         = "https://api.orderflow.io/problems/not-found"
	TypeOrderNotFound    = "https://api.orderflow.io/problems/order-not-found"
	TypeInvalidOrder     = "https://api.orderflow.io/problems/invalid-order"
	TypeConflict         = "https://api.orderflow.io/problems/conflict"
	TypeUnavailable      = "https://api.orderflow.io/problems/service-unavailable"
	TypeBadGateway       = "https://api.orderflow.io/problems/bad-gateway"
	TypeInternalError    = "https://api.orderflow.io/problems/internal-error"
	TypeSlippageExceeded = "https://api.orderflow.io/problems/slippage-exceeded"
)

// Problem titles
const (
	TitleValidationError  = "Validation Error"
	TitleNotFound         = "Not Found"
	TitleOrderNotFound    = "Order Not Found"
	TitleInvalidOrder     = "Invalid Order"
	TitleConflict         = "Conflict"
	TitleUnavailable      = "Service Unavailable"
	TitleBadGateway       = "Bad Gateway"
	TitleInternalError    = "Internal Server Error"
	TitleSlippageExceeded = "Slippage Exceeded"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Errors   []ValidationError      `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates a validation error problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

// NewNotFoundError creates a not found error problem
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

// FromError maps an error to problem details using its kind
func FromError(err error, instance string) *ProblemDetails {
	var e *Error
	if !As(err, &e) {
		return NewInternalError("internal error", instance)
	}

	var p *ProblemDetails
	switch e.Kind {
	case KindValidation:
		p = NewValidationError(e.Message, instance)
		for _, f := range e.Fields {
			p.Errors = append(p.Errors, ValidationError{Field: f.Field, Message: f.Message, Code: f.Kind})
		}
	case KindOrderNotFound:
		p = NewProblemDetails(TypeOrderNotFound, TitleOrderNotFound, http.StatusNotFound, e.Message, instance)
	case KindInvalidPair, KindInvalidAmount:
		p = NewProblemDetails(TypeInvalidOrder, TitleInvalidOrder, http.StatusUnprocessableEntity, e.Message, instance)
	case KindInvalidTransition:
		p = NewProblemDetails(TypeConflict, TitleConflict, http.StatusConflict, e.Message, instance)
	case KindSlippageExceeded:
		p = NewProblemDetails(TypeSlippageExceeded, TitleSlippageExceeded, http.StatusUnprocessableEntity, e.Message, instance)
	case KindVenueUnavailable, KindNoLiquidity, KindSettlementFailed, KindSettlementUnknown:
		p = NewProblemDetails(TypeBadGateway, TitleBadGateway, http.StatusBadGateway, e.Message, instance)
	case KindQueueClosed:
		p = NewProblemDetails(TypeUnavailable, TitleUnavailable, http.StatusServiceUnavailable, e.Message, instance)
	default:
		p = NewInternalError("internal error", instance)
	}
	return p.WithExtra("kind", e.Kind)
}
