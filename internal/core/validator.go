package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"expenseterminal/internal/types"
)

// DateLayout is the calendar-date format accepted for transaction rows.
const DateLayout = "2006-01-02"

// Validator wraps go-playground/validator with the API's custom tags and
// converts failures into validation AppErrors.
//
// Custom tags:
//   - paid_plan: a purchasable plan id (starter, plus).
//   - iso_date: YYYY-MM-DD or RFC 3339.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// FieldError describes one failed field in a validation error's details.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// NewValidator builds a Validator. Field names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "paid_plan", func(fl validator.FieldLevel) bool {
		return types.PlanID(fl.Field().String()).IsPaid()
	})
	mustRegister(v, "iso_date", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering validation %q: %v", tag, err))
	}
}

// ValidateStruct returns nil or a validation_missing_required_field AppError
// listing every failed field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// InvalidValidationError means a programming error (nil or non-struct).
		v.logger.Error("struct validation misuse", slog.String("error", err.Error()))
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: trimNamespace(fe.Namespace()), Rule: fe.Tag()})
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		fmt.Sprintf("invalid value for %s", fields[0].Field),
		err,
		map[string]any{"fields": fields},
	)
}

// trimNamespace drops the root struct name: "importRequest.rows[3].vendor"
// becomes "rows[3].vendor".
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp and returns
// the UTC instant.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
