package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Policy controls how keys that are not declared by a section are treated.
type Policy int

const (
	// RejectUnknown reports undeclared keys as validation issues.
	RejectUnknown Policy = iota
	// AllowUnknown collects undeclared keys in the section's remain field.
	AllowUnknown
)

func (p Policy) String() string {
	if p == AllowUnknown {
		return "allow-unknown"
	}
	return "reject-unknown"
}

// Field describes one declared field of a section.
type Field struct {
	Name       string
	GoName     string
	Type       reflect.Type
	Default    string
	HasDefault bool
	Nested     *Descriptor

	index int
}

// Required reports whether the field must be present in the document.
func (f *Field) Required() bool {
	return !f.HasDefault
}

// Descriptor is the reflected schema of a section struct.
type Descriptor struct {
	Type   reflect.Type
	Policy Policy

	fields []*Field
	byName map[string]*Field
	remain int
}

// Fields returns the declared fields in struct order.
func (d *Descriptor) Fields() []*Field {
	return d.fields
}

// Field looks up a declared field by document key.
func (d *Descriptor) Field(name string) (*Field, bool) {
	f, ok := d.byName[name]
	return f, ok
}

// Lookup resolves a dotted path such as "redis.host" through nested sections.
func (d *Descriptor) Lookup(path string) (*Field, bool) {
	current := d
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if current == nil {
			return nil, false
		}
		f, ok := current.byName[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return f, true
		}
		current = f.Nested
	}
	return nil, false
}

var descriptors sync.Map // reflect.Type -> *Descriptor

// Describe returns the descriptor for a section struct, a pointer to one, or
// its reflect.Type. Descriptors are cached per type.
func Describe(v any) (*Descriptor, error) {
	var t reflect.Type
	switch tv := v.(type) {
	case reflect.Type:
		t = tv
	default:
		t = reflect.TypeOf(v)
	}
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %v is not a struct type", t)
	}
	return describe(t)
}

func describe(t reflect.Type) (*Descriptor, error) {
	if cached, ok := descriptors.Load(t); ok {
		return cached.(*Descriptor), nil
	}

	d := &Descriptor{
		Type:   t,
		Policy: RejectUnknown,
		byName: make(map[string]*Field),
		remain: -1,
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		name, opts := parseTag(sf.Tag.Get("mapstructure"))
		if name == "-" {
			continue
		}
		if opts["remain"] {
			if sf.Type.Kind() != reflect.Map || sf.Type.Key().Kind() != reflect.String {
				return nil, fmt.Errorf("schema: remain field %s.%s must be a map with string keys", t.Name(), sf.Name)
			}
			d.Policy = AllowUnknown
			d.remain = i
			continue
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}

		f := &Field{
			Name:   name,
			GoName: sf.Name,
			Type:   sf.Type,
			index:  i,
		}

		if def, ok := sf.Tag.Lookup("default"); ok {
			if _, err := parseDefault(sf.Type, def); err != nil {
				return nil, fmt.Errorf("schema: invalid default for %s.%s: %w", t.Name(), sf.Name, err)
			}
			f.Default = def
			f.HasDefault = true
		}

		if st := structType(sf.Type); st != nil {
			nested, err := describe(st)
			if err != nil {
				return nil, err
			}
			f.Nested = nested
		}

		d.fields = append(d.fields, f)
		d.byName[name] = f
	}

	actual, _ := descriptors.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// structType returns the struct type behind t when t is a struct or a pointer
// to one; nil otherwise.
func structType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		return t
	}
	return nil
}

func parseTag(tag string) (string, map[string]bool) {
	parts := strings.Split(tag, ",")
	opts := make(map[string]bool, len(parts)-1)
	for _, opt := range parts[1:] {
		opts[strings.TrimSpace(opt)] = true
	}
	return parts[0], opts
}

// parseDefault converts a default tag value into a value of type t.
func parseDefault(t reflect.Type, raw string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetFloat(n)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			return v, fmt.Errorf("unsupported default slice element %s", t.Elem())
		}
		items := []string{}
		if raw != "" {
			for _, item := range strings.Split(raw, ",") {
				items = append(items, strings.TrimSpace(item))
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return v, fmt.Errorf("unsupported default kind %s", t.Kind())
	}
	return v, nil
}

// applyDefaults writes declared defaults into rv and allocates nested
// section pointers so their own defaults can be applied.
func applyDefaults(d *Descriptor, rv reflect.Value) {
	for _, f := range d.fields {
		fv := rv.Field(f.index)
		if f.HasDefault {
			def, _ := parseDefault(f.Type, f.Default)
			fv.Set(def)
			continue
		}
		if f.Nested == nil {
			continue
		}
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				fv.Set(reflect.New(f.Type.Elem()))
			}
			fv = fv.Elem()
		}
		applyDefaults(f.Nested, fv)
	}
}
