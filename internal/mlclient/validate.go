package mlclient

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/utils"
)

// MaxTextLength is the longest text, in characters, the ML services accept.
// It matches the max tag on the models request DTOs.
const MaxTextLength = 32000

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields under the names the dashboard sends
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return proxy.ToCamelCase(name)
	})
	must(v.RegisterValidation("notblank", notBlank))
	must(v.RegisterValidation("segment", pathSegment))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// pathSegment holds for ids that survive as one URL path element.
func pathSegment(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "." && s != ".."
}

// params collects validation failures keyed by field name.
type params map[string]string

func (p params) check(req any) {
	p.add("", validate.Struct(req))
}

// id validates an identifier that travels in the URL path.
func (p params) id(field, value string) {
	p.add(field, validate.Var(value, "required,notblank,segment"))
}

// oneOf fills an empty enum value with its default.
func oneOf(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func (p params) add(field string, err error) {
	if err == nil {
		return
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		p[field] = err.Error()
		return
	}
	for _, fe := range errs {
		name := field
		if name == "" {
			name, _, _ = strings.Cut(fe.Field(), "[")
		}
		if _, seen := p[name]; !seen {
			p[name] = describe(fe)
		}
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "max":
		return "exceeds " + fe.Param() + " characters"
	case "oneof":
		allowed := strings.ReplaceAll(fe.Param(), " ", ", ")
		if fe.Kind() == reflect.String && strings.Contains(fe.Namespace(), "[") {
			return "unknown value " + fe.Value().(string) + "; must be one of " + allowed
		}
		return "must be one of " + allowed
	case "segment":
		return "must not be a relative path element"
	}
	return "failed " + fe.Tag() + " check"
}

func (p params) err() error {
	if len(p) == 0 {
		return nil
	}
	return utils.Validation(p)
}
