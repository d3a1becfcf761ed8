package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	passwordMinLen  = 8
	passwordMaxLen  = 20
	passwordSymbols = "@#$%^&+=!"
)

// echoValidator wraps go-playground/validator so Echo can call c.Validate(req).
type echoValidator struct {
	v *validator.Validate
}

// NewValidator returns an echoValidator ready to be assigned to echo.Echo.Validator.
// It registers the "password" tag used by the registration and reset forms.
func NewValidator() *echoValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("password", validatePassword); err != nil {
		panic(fmt.Sprintf("validator: register password rule: %v", err))
	}
	return &echoValidator{v: v}
}

// Validate satisfies the echo.Validator interface.
func (ev *echoValidator) Validate(i any) error {
	if err := ev.v.Struct(i); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func validatePassword(fl validator.FieldLevel) bool {
	return meetsPasswordPolicy(fl.Field().String())
}

// meetsPasswordPolicy reports whether pw is 8 to 20 characters long, has no
// whitespace, and mixes a digit, a lower and an upper case letter and one
// of @#$%^&+=!.
func meetsPasswordPolicy(pw string) bool {
	n := len([]rune(pw))
	if n < passwordMinLen || n > passwordMaxLen {
		return false
	}
	var digit, lower, upper, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsSpace(r):
			return false
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return digit && lower && upper && symbol
}

// fieldError converts a single ValidationError into a human-readable message.
func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "password":
		return fmt.Sprintf("%s must be %d-%d characters with a digit, a lower and an upper case letter, one of %s and no spaces",
			field, passwordMinLen, passwordMaxLen, passwordSymbols)
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
