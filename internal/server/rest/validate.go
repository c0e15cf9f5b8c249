package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("maxbytes", maxBytes)
	return v
}

// maxBytes bounds the encoded length of a string; max counts runes.
func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// fieldErrors flattens validator errors into one FieldError per violation,
// keyed by JSON path without the root struct name.
func fieldErrors(err error) []common.FieldError {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return []common.FieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]common.FieldError, 0, len(vErrs))
	for _, fe := range vErrs {
		out = append(out, common.FieldError{Field: fieldPath(fe.Namespace()), Message: fieldMessage(fe)})
	}
	return out
}

func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "maxbytes":
		return fmt.Sprintf("must be at most %s bytes", fe.Param())
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	case "eq":
		return "must equal " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// bindTree decodes a JSON tree into dst and validates it. Type mismatches
// and rule violations are merged into one ValidationError. encoding/json
// keeps decoding past a type mismatch, so the remaining fields are still
// checked.
func bindTree(v *validator.Validate, tree any, dst any) error {
	var fields []common.FieldError

	if tree == nil {
		tree = map[string]any{}
	}
	if _, ok := tree.(map[string]any); !ok {
		return common.NewValidationError(common.FieldError{Field: "body", Message: "must be a JSON object"})
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		return common.NewValidationError(common.FieldError{Field: "body", Message: "malformed JSON"})
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(dst); err != nil {
		fields = append(fields, typeError(err))
	}

	if err := v.Struct(dst); err != nil {
		seen := make(map[string]bool, len(fields))
		for _, f := range fields {
			seen[f.Field] = true
		}
		for _, f := range fieldErrors(err) {
			if !seen[f.Field] {
				fields = append(fields, f)
			}
		}
	}

	if len(fields) > 0 {
		return common.NewValidationError(fields...)
	}
	return nil
}

func typeError(err error) common.FieldError {
	var tErr *json.UnmarshalTypeError
	if errors.As(err, &tErr) && tErr.Field != "" {
		return common.FieldError{Field: tErr.Field, Message: "must be a " + tErr.Type.String()}
	}
	return common.FieldError{Field: "body", Message: "malformed JSON"}
}
