package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"tubenotify/internal/types"
)

// Validator wraps go-playground/validator and turns its field errors into
// AppErrors that name fields by their JSON keys.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct checks s against its validate tags. Missing required fields
// produce a single validation_missing_required_field error such as
// "title and message are required"; any other rule failure produces
// validation_invalid_value naming the first offending field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	var missing []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			requiredMessage(missing),
			nil,
			map[string]any{"fields": missing},
		)
	}

	fe := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidValue,
		fe.Field()+" is invalid",
		nil,
		map[string]any{"field": fe.Field(), "rule": fe.Tag()},
	)
}

func requiredMessage(fields []string) string {
	if len(fields) == 1 {
		return fields[0] + " is required"
	}
	return strings.Join(fields[:len(fields)-1], ", ") + " and " + fields[len(fields)-1] + " are required"
}
