package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateStruct validates a struct based on validate tags.
// Supported rules: required, email, min=N (string length), oneof=a b c.
func ValidateStruct(s interface{}) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return errors.New("not a struct")
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		tag := field.Tag.Get("validate")

		if tag == "" {
			continue
		}

		for _, rule := range strings.Split(tag, ",") {
			if err := validateField(field.Name, value, rule); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateField(fieldName string, value reflect.Value, rule string) error {
	switch {
	case rule == "required":
		if isZero(value) {
			return fmt.Errorf("%s is required", fieldName)
		}
	case rule == "email":
		if value.Kind() == reflect.String {
			if err := ValidateEmail(value.String()); err != nil {
				return fmt.Errorf("%s must be a valid email", fieldName)
			}
		}
	case strings.HasPrefix(rule, "min="):
		minVal, err := strconv.Atoi(strings.TrimPrefix(rule, "min="))
		if err != nil {
			return fmt.Errorf("invalid min rule on %s", fieldName)
		}
		if value.Kind() == reflect.String && len(value.String()) < minVal {
			return fmt.Errorf("%s must be at least %d characters", fieldName, minVal)
		}
	case strings.HasPrefix(rule, "oneof="):
		if value.Kind() != reflect.String {
			return nil
		}
		allowed := strings.Fields(strings.TrimPrefix(rule, "oneof="))
		for _, candidate := range allowed {
			if value.String() == candidate {
				return nil
			}
		}
		return fmt.Errorf("%s must be one of %s", fieldName, strings.Join(allowed, ", "))
	}
	return nil
}

// isZero checks if a value is zero/empty
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailRegex.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

// SanitizeString trims whitespace and strips null bytes
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// SanitizeEmail normalizes an email address for storage and lookup
func SanitizeEmail(email string) string {
	return strings.ToLower(SanitizeString(email))
}
