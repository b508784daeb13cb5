// Package validation builds the shared request validator and renders its
// failures as human readable, JSON-keyed messages.
package validation

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once       sync.Once
	shared     *validator.Validate
	translator ut.Translator
)

// New returns the process wide validator. Field names in errors use the json tag.
func New() *validator.Validate {
	once.Do(initValidator)
	return shared
}

func initValidator() {
	v := validator.New()
	v.RegisterTagNameFunc(jsonTagName)

	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err == nil {
		translator = trans
	}
	shared = v
}

func jsonTagName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	}
	return name
}

// Translate flattens validation errors into field -> message pairs.
func Translate(errs validator.ValidationErrors) map[string]string {
	once.Do(initValidator)
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		key := fieldPath(fe)
		if translator != nil {
			out[key] = fe.Translate(translator)
			continue
		}
		out[key] = fe.Error()
	}
	return out
}

// fieldPath drops the top level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}
