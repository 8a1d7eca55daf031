package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/orcamentos/orcamentos/internal/shared"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate runs struct tag validation and converts failures into a
// *shared.ValidationError keyed by JSON field name.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		if _, ok := fields[fe.Field()]; ok {
			continue
		}
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &shared.ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "campo obrigatório"
	case "email":
		return "e-mail inválido"
	case "min":
		return fmt.Sprintf("mínimo de %s caracteres", fe.Param())
	case "max":
		return fmt.Sprintf("máximo de %s caracteres", fe.Param())
	case "oneof":
		return fmt.Sprintf("valor deve ser um de: %s", fe.Param())
	case "eqfield":
		return "confirmação não confere"
	case "gt":
		return fmt.Sprintf("deve ser maior que %s", fe.Param())
	case "hexcolor":
		return "cor inválida"
	default:
		return "valor inválido"
	}
}

// DecodeValid decodes the JSON body into target and validates it.
func DecodeValid(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return Validate(target)
}
