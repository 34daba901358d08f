package daemon

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"colabsfm/internal/region"
	"colabsfm/internal/services"
)

type regionRequest struct {
	Region string `form:"region_name" validate:"required,region"`
}

type uploadRequest struct {
	Region string `form:"region_name" validate:"required,region"`
	UserID string `form:"user_id" validate:"omitempty,max=256,uploader"`
}

// newValidator registers the region tag against layout so reserved root
// names are rejected alongside syntactically invalid ones.
func newValidator(layout *region.Layout) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("region", func(fl validator.FieldLevel) bool {
		if layout == nil {
			return region.ValidateName(fl.Field().String()) == nil
		}
		return layout.ValidateName(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("uploader", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
	})
	return v
}

// validateRequest returns an ErrValidation error describing the first
// failing field.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return services.Wrap(services.ErrValidation, "api", "bind", "invalid request", err)
	}
	fe := fieldErrs[0]
	return services.Wrap(services.ErrValidation, "api", "bind", describeFieldError(fe), nil)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "region":
		return fmt.Sprintf("%s %q is not a valid region name", fe.Field(), fe.Value())
	case "uploader":
		return fmt.Sprintf("%s must not contain control characters", fe.Field())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
