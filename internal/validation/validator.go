// Package validation checks API request structs against `validate` struct
// tags. Rules: required, hex=<n> (hex string of exactly n characters),
// min=<n> and max=<n> (string length or numeric value).
package validation

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("validate")
		if tag == "" {
			continue
		}
		if err := v.validateField(val.Field(i), tag); err != nil {
			return fmt.Errorf("%s: %w", typ.Field(i).Name, err)
		}
	}
	return nil
}

func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		arg := 0
		if len(parts) == 2 {
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				return fmt.Errorf("bad rule %q", rule)
			}
			arg = n
		}

		switch parts[0] {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "hex":
			if field.Kind() != reflect.String {
				return fmt.Errorf("hex rule applies to strings")
			}
			s := field.String()
			if len(s) != arg {
				return fmt.Errorf("must be %d hex characters", arg)
			}
			if _, err := hex.DecodeString(s); err != nil {
				return fmt.Errorf("invalid hex string")
			}

		case "min":
			if err := compare(field, arg, false); err != nil {
				return err
			}

		case "max":
			if err := compare(field, arg, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func compare(field reflect.Value, bound int, isMax bool) error {
	var n int64
	switch field.Kind() {
	case reflect.String:
		n = int64(len(field.String()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = field.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = int64(field.Uint())
	case reflect.Slice:
		n = int64(field.Len())
	default:
		return fmt.Errorf("min/max rule applies to strings, numbers and slices")
	}

	if isMax && n > int64(bound) {
		return fmt.Errorf("maximum is %d", bound)
	}
	if !isMax && n < int64(bound) {
		return fmt.Errorf("minimum is %d", bound)
	}
	return nil
}
