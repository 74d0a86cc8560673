package handlers

import (
	"encoding/json"
	"net/http"
	"reflect"
	"time"
)

// JSONResponse sends a JSON response and ensures slices are never null.
//
// Nil slices encode as "null" with the standard encoder, which breaks
// frontends that expect arrays. Always use this instead of calling
// json.NewEncoder(w).Encode() directly.
func JSONResponse(w http.ResponseWriter, data interface{}) error {
	normalized := normalizeSlices(data)

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(normalized)
}

// normalizeSlices recursively ensures all nil slices become empty slices
func normalizeSlices(data interface{}) interface{} {
	if data == nil {
		return data
	}

	v := reflect.ValueOf(data)

	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return data
		}
		elem := v.Elem()

		// *time.Time must not be recursively processed
		if elem.Type() == reflect.TypeOf(time.Time{}) {
			return data
		}

		normalized := normalizeSlices(elem.Interface())

		result := reflect.New(elem.Type())
		result.Elem().Set(reflect.ValueOf(normalized))
		return result.Interface()
	}

	if v.Kind() == reflect.Slice {
		if v.IsNil() {
			return reflect.MakeSlice(v.Type(), 0, 0).Interface()
		}

		result := reflect.MakeSlice(v.Type(), v.Len(), v.Cap())
		for i := 0; i < v.Len(); i++ {
			normalized := normalizeSlices(v.Index(i).Interface())
			result.Index(i).Set(reflect.ValueOf(normalized))
		}
		return result.Interface()
	}

	if v.Kind() == reflect.Struct {
		if v.Type() == reflect.TypeOf(time.Time{}) {
			return data
		}

		result := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			structField := v.Type().Field(i)

			if !field.CanInterface() {
				continue
			}

			fieldType := field.Type()
			if fieldType == reflect.TypeOf(time.Time{}) ||
				(fieldType.Kind() == reflect.Ptr && fieldType.Elem() == reflect.TypeOf(time.Time{})) {
				// Copy time fields directly without processing
				if result.Field(i).CanSet() && structField.IsExported() {
					result.Field(i).Set(field)
				}
			} else if field.Kind() == reflect.Slice || field.Kind() == reflect.Ptr || field.Kind() == reflect.Struct {
				normalized := normalizeSlices(field.Interface())
				if result.Field(i).CanSet() {
					result.Field(i).Set(reflect.ValueOf(normalized))
				}
			} else {
				if result.Field(i).CanSet() && structField.IsExported() {
					result.Field(i).Set(field)
				}
			}
		}
		return result.Interface()
	}

	return data
}
