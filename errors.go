package tdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownField        = errors.New("unknown field")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrIncompleteKey       = errors.New("incomplete key")
	ErrAmbiguousFilterSpec = errors.New("ambiguous filter spec")
)

// DataError reports bytes read from the key store that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// SchemaError is a contract violation against a schema: an unknown field,
// a value of the wrong type, an unsupported operator or filter spec.
type SchemaError struct {
	Schema *Schema
	Field  string
	Index  *Index
	Msg    string
	Err    error
}

func schemaErrf(scm *Schema, field string, err error, format string, args ...any) error {
	return &SchemaError{Schema: scm, Field: field, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func (e *SchemaError) Error() string {
	var buf strings.Builder
	if e.Schema != nil {
		buf.WriteString(e.Schema.Name())
	}
	if e.Index != nil {
		buf.WriteByte('.')
		buf.WriteString(e.Index.Name())
	}
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	return buf.String()
}

// KeyError reports a key that cannot be used for the requested operation,
// usually because some of its fields are not bound.
type KeyError struct {
	Index   *Index
	Key     KeyMap
	Missing []string
	Err     error
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func (e *KeyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Index.FullName())
	buf.WriteByte('/')
	buf.WriteString(e.Index.KeyString(e.Key))
	buf.WriteString(": ")
	buf.WriteString(e.Err.Error())
	if len(e.Missing) > 0 {
		buf.WriteString(": missing ")
		buf.WriteString(strings.Join(e.Missing, ", "))
	}
	return buf.String()
}
