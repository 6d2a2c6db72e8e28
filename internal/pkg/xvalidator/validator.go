// Package xvalidator validates service inputs and reports failures as
// errs.Validation with per-field messages.
package xvalidator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/samber/lo"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

//nolint:gochecknoinits // validator setup.
func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	_ = validate.RegisterValidation("stage_key", func(fl validator.FieldLevel) bool {
		return objects.StageKey(fl.Field().String()).Order() > 0
	})
	registerTranslation("stage_key", "{0} must be a known stage key")
}

func registerTranslation(tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates v using its `validate` tags.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Wrap(errs.KindValidation, err, "invalid input")
	}

	return errs.ValidationFields(lo.Map(verrs, func(fe validator.FieldError, _ int) errs.FieldError {
		return errs.FieldError{Field: fe.Field(), Error: fe.Translate(translator)}
	})...)
}
