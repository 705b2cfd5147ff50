package audit

import (
	"reflect"
	"strings"
)

// Diff compares the listed json fields of two structs (or pointers to structs)
// of the same type and returns {"field": {"old": ..., "new": ...}} for every
// field whose value changed. Pointer fields compare by pointee.
func Diff(old, new interface{}, fields []string) map[string]interface{} {
	changes := make(map[string]interface{})
	if old == nil || new == nil || len(fields) == 0 {
		return changes
	}

	oldFields := extractFields(old, fields)
	for field, newValue := range extractFields(new, fields) {
		oldValue, exists := oldFields[field]
		if exists && !reflect.DeepEqual(oldValue, newValue) {
			changes[field] = map[string]interface{}{
				"old": oldValue,
				"new": newValue,
			}
		}
	}
	return changes
}

func extractFields(obj interface{}, fields []string) map[string]interface{} {
	result := make(map[string]interface{})
	val := reflect.ValueOf(obj)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return result
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		if contains(fields, name) {
			result[name] = val.Field(i).Interface()
		}
	}
	return result
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
