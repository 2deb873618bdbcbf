package newsletter

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/quantonganh/bulletin"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a user facing invalid error.
func validationError(op string, err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &bulletin.Error{Code: bulletin.ErrInternal, Op: op, Err: err}
	}

	fe := errs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required.", fe.Field())
	case "email":
		msg = "Invalid email address."
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s.", fe.Field(), fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters.", fe.Field(), fe.Param())
	default:
		msg = fmt.Sprintf("Invalid %s.", fe.Field())
	}

	return &bulletin.Error{Code: bulletin.ErrInvalid, Op: op, Message: msg, Err: err}
}
