package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"LicensePlatform/pkg/errors"
)

var (
	alphaDashRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	licenseKeyRegex = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

// Validator проверяет структуры запросов по тегам validate
type Validator struct {
	validate *validator.Validate
}

// NewValidator создает Validator с правилами alphadash и licensekey.
// В сообщениях используются имена полей из тега json.
func NewValidator() *Validator {
	v := validator.New()

	_ = v.RegisterValidation("alphadash", isAlphaDash)
	_ = v.RegisterValidation("licensekey", isLicenseKey)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v}
}

// Struct проверяет структуру. Ошибка имеет код VALIDATION_ERROR и перечисляет поля в Details.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.ErrValidation, "validation failed")
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		problems = append(problems, describe(fe))
	}
	return errors.New(errors.ErrValidation, "validation failed").
		WithDetails(strings.Join(problems, "; "))
}

// Var проверяет одно значение по тегу
func (v *Validator) Var(value interface{}, tag string) error {
	if err := v.validate.Var(value, tag); err != nil {
		return errors.Wrap(err, errors.ErrValidation, "validation failed")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// isAlphaDash буквы, цифры, дефис и подчеркивание
func isAlphaDash(fl validator.FieldLevel) bool {
	return alphaDashRegex.MatchString(fl.Field().String())
}

// isLicenseKey буквы, цифры и дефис
func isLicenseKey(fl validator.FieldLevel) bool {
	return licenseKeyRegex.MatchString(fl.Field().String())
}
