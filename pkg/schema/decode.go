package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _ := parseTag(sf.Tag.Get("mapstructure"))
		if name == "" {
			return strings.ToLower(sf.Name)
		}
		return name
	})
	return v
})

// Decode validates raw against the schema of out and, on success, leaves the
// decoded section in out. out must be a non-nil pointer to a section struct.
// On failure the returned error is a *ValidationError listing every issue.
func Decode(section string, raw map[string]any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("schema: decode target for %q must be a non-nil struct pointer, got %T", section, out)
	}
	desc, err := Describe(rv.Type())
	if err != nil {
		return err
	}

	applyDefaults(desc, rv.Elem())

	issues := checkSection("", desc, raw)
	if len(issues) > 0 {
		return newValidationError(section, issues)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("schema: failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return newValidationError(section, []FieldError{{
			Constraint: ConstraintDecode,
			Message:    err.Error(),
		}})
	}

	if err := validate().Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("schema: failed to validate %q: %w", section, err)
		}
		for _, fe := range verrs {
			issues = append(issues, FieldError{
				Field:      trimNamespace(fe.Namespace()),
				Constraint: ConstraintValidate,
				Message:    fmt.Sprintf("failed %q constraint (value: %v)", constraintText(fe), fe.Value()),
			})
		}
		return newValidationError(section, issues)
	}

	return nil
}

// checkSection reports the undeclared, missing and mistyped keys of raw,
// recursing through nested tables.
func checkSection(path string, desc *Descriptor, raw map[string]any) []FieldError {
	var issues []FieldError
	for key, value := range raw {
		f, ok := desc.byName[key]
		if !ok {
			if desc.Policy == RejectUnknown {
				issues = append(issues, FieldError{
					Field:      join(path, key),
					Constraint: ConstraintUnknown,
					Message:    "unknown field",
				})
			}
			continue
		}
		issues = append(issues, checkValue(join(path, key), f.Type, value)...)
	}

	for _, f := range desc.fields {
		if _, ok := raw[f.Name]; ok || f.HasDefault {
			continue
		}
		issues = append(issues, FieldError{
			Field:      join(path, f.Name),
			Constraint: ConstraintMissing,
			Message:    "missing required field",
		})
	}
	return issues
}

func checkValue(path string, t reflect.Type, value any) []FieldError {
	if value == nil {
		return []FieldError{typeIssue(path, t, value)}
	}

	vt := reflect.TypeOf(value)
	if vt.AssignableTo(t) && t.Kind() != reflect.Interface {
		return nil
	}

	vk := vt.Kind()
	switch t.Kind() {
	case reflect.Interface:
		return nil
	case reflect.String, reflect.Bool:
		if vk != t.Kind() {
			return []FieldError{typeIssue(path, t, value)}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !isInteger(vk) {
			return []FieldError{typeIssue(path, t, value)}
		}
	case reflect.Float32, reflect.Float64:
		if !isInteger(vk) && vk != reflect.Float32 && vk != reflect.Float64 {
			return []FieldError{typeIssue(path, t, value)}
		}
	case reflect.Slice, reflect.Array:
		if vk != reflect.Slice && vk != reflect.Array {
			return []FieldError{typeIssue(path, t, value)}
		}
		var issues []FieldError
		rv := reflect.ValueOf(value)
		for i := 0; i < rv.Len(); i++ {
			issues = append(issues, checkValue(fmt.Sprintf("%s[%d]", path, i), t.Elem(), rv.Index(i).Interface())...)
		}
		return issues
	case reflect.Map:
		if vk != reflect.Map || vt.Key().Kind() != reflect.String {
			return []FieldError{typeIssue(path, t, value)}
		}
		var issues []FieldError
		iter := reflect.ValueOf(value).MapRange()
		for iter.Next() {
			elemPath := fmt.Sprintf("%s[%s]", path, iter.Key().String())
			issues = append(issues, checkValue(elemPath, t.Elem(), iter.Value().Interface())...)
		}
		return issues
	case reflect.Ptr, reflect.Struct:
		st := structType(t)
		if st == nil {
			return []FieldError{typeIssue(path, t, value)}
		}
		m, ok := value.(map[string]any)
		if !ok {
			return []FieldError{typeIssue(path, t, value)}
		}
		nested, err := describe(st)
		if err != nil {
			return []FieldError{{Field: path, Constraint: ConstraintDecode, Message: err.Error()}}
		}
		return checkSection(path, nested, m)
	default:
		return []FieldError{typeIssue(path, t, value)}
	}
	return nil
}

func typeIssue(path string, want reflect.Type, got any) FieldError {
	return FieldError{
		Field:      path,
		Constraint: ConstraintType,
		Message:    fmt.Sprintf("expected %s, got %s", kindName(want), valueKind(got)),
	}
}

func kindName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice, reflect.Array:
		return "list of " + kindName(t.Elem())
	case reflect.Map:
		return "mapping of " + kindName(t.Elem())
	case reflect.Ptr, reflect.Struct:
		return "table"
	case reflect.Interface:
		return "any"
	}
	if isInteger(t.Kind()) {
		return "integer"
	}
	return t.String()
}

func valueKind(v any) string {
	if v == nil {
		return "null"
	}
	return kindName(reflect.TypeOf(v))
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// trimNamespace drops the root struct name from a validator namespace.
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func constraintText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
