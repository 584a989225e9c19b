package ai

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iago/technoshare-commentator/internal/domain"
)

var ErrMalformedOutput = errors.New("malformed analysis output")

func newResultValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("sentence", func(fl validator.FieldLevel) bool {
		return IsFullSentence(fl.Field().String())
	})
	return validate
}

// IsFullSentence reports whether value is a single line ending in terminal
// punctuation, allowing up to two trailing quote or bracket characters.
func IsFullSentence(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.Contains(trimmed, "\n") {
		return false
	}
	runes := []rune(trimmed)
	tail := runes[max(0, len(runes)-3):]
	return strings.ContainsAny(string(tail), ".!?")
}

func validateResult(validate *validator.Validate, result domain.AnalysisResult) error {
	err := validate.Struct(result)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	problems := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		problem := fmt.Sprintf("%s failed %s", strings.TrimPrefix(fieldErr.Namespace(), "AnalysisResult."), fieldErr.Tag())
		if fieldErr.Param() != "" {
			problem += "=" + fieldErr.Param()
		}
		problems = append(problems, problem)
	}
	return fmt.Errorf("%w: %s", ErrMalformedOutput, strings.Join(problems, "; "))
}
