// Package validator checks request payloads before any state is touched.
package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate

	// Valid POSIX login names as accepted by useradd's default NAME_REGEX.
	usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

// FieldError describes one rejected field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " failed on " + f.Rule
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Missing returns the names of fields that were required but empty.
func (e *ValidationError) Missing() []string {
	var out []string
	for _, f := range e.Fields {
		if f.Rule == "required" {
			out = append(out, f.Field)
		}
	}
	return out
}

// Struct validates s against its `validate` tags. Failures come back as a
// *ValidationError; anything else (e.g. a non-struct) is returned as is.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(ve))}
	for _, fe := range ve {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// IsUsername reports whether s is an acceptable system login name.
func IsUsername(s string) bool {
	return usernamePattern.MatchString(s)
}

// MaxBcryptPasswordBytes is the longest password bcrypt accepts, in bytes.
const MaxBcryptPasswordBytes = 72

// IsLinePassword reports whether s can be written as a single line to
// line-oriented tools such as chpasswd: no CR, LF or NUL.
func IsLinePassword(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

func get() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return IsUsername(fl.Field().String())
		})
		_ = validate.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
			return len(fl.Field().String()) <= MaxBcryptPasswordBytes
		})
		_ = validate.RegisterValidation("passwd", func(fl validator.FieldLevel) bool {
			return IsLinePassword(fl.Field().String())
		})
	})
	return validate
}
