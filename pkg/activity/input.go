package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrMissingInput is returned when task input lacks a required field.
var ErrMissingInput = errors.New("missing task input")

// ErrInvalidInput is returned when task input cannot be decoded.
var ErrInvalidInput = errors.New("invalid task input")

// Func adapts a typed function into a Handler. The task input is decoded
// into In; struct fields tagged `sfini:"required"` must be present in the
// input, other fields keep their zero value when absent. A map In receives
// every key of the input.
func Func[In, Out any](fn func(context.Context, In) (Out, error)) Handler {
	return HandlerFunc(func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if err := DecodeInput(raw, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	})
}

// DecodeInput decodes raw task input into v, which must be a pointer,
// enforcing `sfini:"required"` fields.
func DecodeInput(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = json.RawMessage("{}")
	}

	if required := requiredKeys(reflect.TypeOf(v)); len(required) > 0 {
		var present map[string]json.RawMessage
		if err := json.Unmarshal(raw, &present); err != nil {
			return fmt.Errorf("%w: expected a JSON object: %v", ErrInvalidInput, err)
		}
		for _, key := range required {
			if _, ok := present[key]; !ok {
				return fmt.Errorf("%w: required parameter '%s' not in task input", ErrMissingInput, key)
			}
		}
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// requiredKeys lists the JSON keys of struct fields tagged required.
func requiredKeys(t reflect.Type) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("sfini") != "required" {
			continue
		}
		key := f.Name
		if tag := f.Tag.Get("json"); tag != "" {
			if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
				key = name
			}
		}
		keys = append(keys, key)
	}
	return keys
}
