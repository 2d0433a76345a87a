package web

import (
	"fmt"
	"strings"

	en_locale "github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// validate runs struct-tag validation (`validate:"required"` and friends)
// over every decoded wire payload; translator turns its field errors into
// the human-readable messages returned to the caller.
var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	translator, _ = ut.New(en_locale.New(), en_locale.New()).GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(fmt.Sprintf("registering validator translations: %s", err))
	}
}

// FieldErrors is the field->message map surfaced to the caller when a wire
// payload fails struct-tag validation.
type FieldErrors map[string]string

// Error implements error so FieldErrors can be returned directly as the
// result of Decode.
func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for field, msg := range fe {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// Fields exposes the map for embedding in an errs.Response.Fields.
func (fe FieldErrors) Fields() map[string]string {
	return fe
}

// check runs struct-tag validation over val, translating any failures into
// a FieldErrors. A val with no validate tags always passes.
func check(val any) error {
	if err := validate.Struct(val); err != nil {
		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		fields := make(FieldErrors)
		for _, v := range verrors {
			fields[v.Field()] = v.Translate(translator)
		}
		return fields
	}

	return nil
}
