package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/models"
)

var tokenSymbolRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// Validator validates and sanitizes order requests
type Validator struct {
	validator *validator.Validate
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
}

// NewValidator creates a new validator instance with the order tags registered
func NewValidator(logger *zap.Logger) *Validator {
	v := validator.New()

	// decimals validate as their float value so gt/gte/lte apply
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// report json names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	val := &Validator{
		validator: v,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}
	val.registerCustomValidators()
	return val
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve[0].Message)
}

// AsError converts the collection into a ValidationError kind carrying one field per failure
func (ve ValidationErrors) AsError() *errors.Error {
	err := errors.Validation.Explain("%s", ve.Error())
	for _, e := range ve {
		err = err.WithField(e.Tag, e.Field, e.Message)
	}
	return err
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{Field: "body", Tag: "invalid", Message: err.Error()}}
	}

	var validationErrs ValidationErrors
	for _, fe := range fieldErrs {
		validationErrs = append(validationErrs, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: v.getErrorMessage(fe),
		})
	}
	return validationErrs
}

// SanitizeInput strips any markup from free-form input
func (v *Validator) SanitizeInput(input string) string {
	if input == "" {
		return input
	}
	return strings.TrimSpace(v.sanitizer.Sanitize(input))
}

// ValidateOrderRequest sanitizes the request in place, then validates it.
// The returned error is a ValidationError kind from pkg/errors.
func (v *Validator) ValidateOrderRequest(req *models.CreateOrderRequest) error {
	req.TokenIn = strings.ToUpper(v.SanitizeInput(req.TokenIn))
	req.TokenOut = strings.ToUpper(v.SanitizeInput(req.TokenOut))
	req.UserID = v.SanitizeInput(req.UserID)
	req.Kind = models.OrderKind(strings.ToLower(strings.TrimSpace(string(req.Kind))))

	if err := v.ValidateStruct(req); err != nil {
		ve := err.(ValidationErrors)
		v.logger.Debug("Order request rejected",
			zap.String("user_id", req.UserID),
			zap.String("field", ve[0].Field),
			zap.String("tag", ve[0].Tag))
		return ve.AsError()
	}
	return nil
}

func (v *Validator) registerCustomValidators() {
	v.validator.RegisterValidation("order_kind", func(fl validator.FieldLevel) bool {
		return isOrderKind(fl.Field().String())
	})

	v.validator.RegisterValidation("token_symbol", func(fl validator.FieldLevel) bool {
		return tokenSymbolRegex.MatchString(fl.Field().String())
	})
}

func isOrderKind(s string) bool {
	for _, k := range models.OrderKinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

// suggestKind returns the closest known order kind within edit distance 2
func suggestKind(s string) string {
	best, bestDist := "", 3
	for _, k := range models.OrderKinds {
		if d := levenshtein.ComputeDistance(strings.ToLower(s), string(k)); d < bestDist {
			best, bestDist = string(k), d
		}
	}
	return best
}

// getErrorMessage returns a human-readable error message for validation errors
func (v *Validator) getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte", "lte":
		if fe.Field() == "slippage_tolerance" {
			return "slippage_tolerance must be between 0 and 1"
		}
		return fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from token_in", fe.Field())
	case "token_symbol":
		return fmt.Sprintf("%s must be 1-32 letters, digits or underscores", fe.Field())
	case "order_kind":
		msg := fmt.Sprintf("%s %q is not a recognized order kind", fe.Field(), fe.Value())
		if s := suggestKind(fmt.Sprintf("%v", fe.Value())); s != "" {
			msg += fmt.Sprintf(", did you mean %q?", s)
		}
		return msg
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
