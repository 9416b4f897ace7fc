package tdb

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Type is the declared value type of an attribute. It selects the Go
// representation of values, the default key stringification, and whether
// values compare numerically or lexically.
type Type int

const (
	Any Type = iota
	String
	Int
	Float
	Bool
	Time
	Reference
)

var typeNames = [...]string{
	Any:       "any",
	String:    "string",
	Int:       "int",
	Float:     "float",
	Bool:      "bool",
	Time:      "time",
	Reference: "ref",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("invalid type %d", int(t))
}

func ParseType(s string) (Type, bool) {
	for i, n := range typeNames {
		if strings.EqualFold(n, s) {
			return Type(i), true
		}
	}
	return Any, false
}

func (t Type) IsNumeric() bool {
	return t == Int || t == Float
}

// Attribute describes one named field of a schema. Attributes are built with
// Key and Attr and configured with the chaining methods before the schema is
// added to a catalog; they must not be changed afterwards.
type Attribute struct {
	name   string
	typ    Type
	isKey  bool
	target string
	pos    int
	schema *Schema

	encode    func(v any) (any, error)
	decode    func(v any) (any, error)
	stringify func(v any) string
	parse     func(s string) (any, error)
}

// Key declares a primary-key attribute. Key attributes form the composite
// primary key in declaration order.
func Key(name string, typ Type) *Attribute {
	if typ == Reference {
		panic(fmt.Errorf("key attribute %q cannot be a reference", name))
	}
	return &Attribute{name: name, typ: typ, isKey: true}
}

// Attr declares a regular attribute.
func Attr(name string, typ Type) *Attribute {
	return &Attribute{name: name, typ: typ}
}

// RefTo declares an attribute referencing a record of the target schema.
func RefTo(name string, target string) *Attribute {
	return &Attribute{name: name, typ: Reference, target: target}
}

// Encoded sets the hooks converting values to and from their stored form.
// decode(encode(x)) must equal x.
func (attr *Attribute) Encoded(encode, decode func(v any) (any, error)) *Attribute {
	attr.encode = encode
	attr.decode = decode
	return attr
}

// Stringified sets the hooks converting values to and from key components.
func (attr *Attribute) Stringified(stringify func(v any) string, parse func(s string) (any, error)) *Attribute {
	attr.stringify = stringify
	attr.parse = parse
	return attr
}

func (attr *Attribute) Name() string   { return attr.name }
func (attr *Attribute) Type() Type     { return attr.typ }
func (attr *Attribute) IsKey() bool    { return attr.isKey }
func (attr *Attribute) Target() string { return attr.target }
func (attr *Attribute) Schema() *Schema {
	return attr.schema
}

func (attr *Attribute) String() string {
	if attr.schema == nil {
		return attr.name
	}
	return attr.schema.name + "." + attr.name
}

// Stringify converts a value of this attribute into a key component.
func (attr *Attribute) Stringify(v any) string {
	if v == nil {
		return ""
	}
	if attr.stringify != nil {
		return attr.stringify(v)
	}
	return defaultStringify(attr.typ, v)
}

// Parse converts a key component back into a value of this attribute.
func (attr *Attribute) Parse(s string) (any, error) {
	if attr.parse != nil {
		return attr.parse(s)
	}
	return defaultParse(attr.typ, s)
}

func (attr *Attribute) Encode(v any) (any, error) {
	if attr.encode == nil || v == nil {
		return v, nil
	}
	return attr.encode(v)
}

func (attr *Attribute) Decode(v any) (any, error) {
	if attr.decode == nil {
		return attr.coerceStored(v)
	}
	return attr.decode(v)
}

// coerceStored converts a normalized msgpack value into the attribute's Go
// representation; msgpack hands back int64 for any integer and may hand back
// an integer for a float that had no fractional part.
func (attr *Attribute) coerceStored(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch attr.typ {
	case Float:
		if i, ok := v.(int64); ok {
			return float64(i), nil
		}
	case Time:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	}
	return v, nil
}

// Check validates that v is acceptable for this attribute and returns it in
// canonical form (int64 for Int, float64 for Float, UTC time for Time).
func (attr *Attribute) Check(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, ok := checkType(attr.typ, v)
	if !ok {
		return nil, schemaErrf(attr.schema, attr.name, ErrTypeMismatch, "got %T %v, wanted %v", v, v, attr.typ)
	}
	if attr.typ == Reference {
		if err := attr.checkRefTarget(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (attr *Attribute) checkRefTarget(v any) error {
	var name string
	switch v := v.(type) {
	case *Record:
		name = v.schema.name
	case *Ref:
		name = v.schema.name
	}
	if !strings.EqualFold(name, attr.target) {
		return schemaErrf(attr.schema, attr.name, ErrTypeMismatch, "got a %s record, wanted %s", name, attr.target)
	}
	return nil
}

func checkType(typ Type, v any) (any, bool) {
	switch typ {
	case Any:
		return v, true
	case String:
		s, ok := v.(string)
		return s, ok
	case Bool:
		b, ok := v.(bool)
		return b, ok
	case Int:
		return toInt64(v)
	case Float:
		if f, ok := toFloat64(v); ok {
			return f, true
		}
		return nil, false
	case Time:
		t, ok := v.(time.Time)
		if !ok {
			return nil, false
		}
		return t.UTC(), true
	case Reference:
		switch v := v.(type) {
		case *Record:
			return v, v != nil
		case *Ref:
			return v, v != nil
		}
		return nil, false
	default:
		return nil, false
	}
}

func toInt64(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, false
		}
		return int64(u), true
	default:
		return nil, false
	}
}

func toFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}

func defaultStringify(typ Type, v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *Record:
		return v.keyString()
	case *Ref:
		return v.schema.Primary().KeyString(v.key)
	}
	if out, ok := checkType(typ, v); ok && typ != Any {
		return defaultStringify(typ, out)
	}
	return fmt.Sprint(v)
}

func defaultParse(typ Type, s string) (any, error) {
	switch typ {
	case String, Any:
		return s, nil
	case Int:
		return strconv.ParseInt(s, 10, 64)
	case Float:
		return strconv.ParseFloat(s, 64)
	case Bool:
		return strconv.ParseBool(s)
	case Time:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	default:
		return nil, fmt.Errorf("cannot parse %v from a key component", typ)
	}
}

// valuesEqual compares two canonical values of this attribute: numerically
// for numeric types, by key for references, lexically otherwise.
func (attr *Attribute) valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch attr.typ {
	case Int, Float:
		fa, aok := toFloat64(a)
		fb, bok := toFloat64(b)
		if aok && bok {
			if ia, ok := a.(int64); ok {
				if ib, ok := b.(int64); ok {
					return ia == ib
				}
			}
			return fa == fb
		}
	case Time:
		ta, aok := a.(time.Time)
		tb, bok := b.(time.Time)
		if aok && bok {
			return ta.Equal(tb)
		}
	case Reference:
		return refIdentity(a) == refIdentity(b)
	}
	return attr.Stringify(a) == attr.Stringify(b)
}

func refIdentity(v any) string {
	switch v := v.(type) {
	case *Record:
		km, _ := v.schema.Primary().BuildKey(v)
		return v.schema.name + "/" + entryName(v.schema.Primary(), km)
	case *Ref:
		return v.schema.name + "/" + entryName(v.schema.Primary(), v.key)
	default:
		return fmt.Sprint(v)
	}
}
