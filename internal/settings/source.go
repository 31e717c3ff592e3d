package settings

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
)

// Source exposes named configuration values. Lookup may fail; the dump
// reports the failure inline instead of aborting.
type Source interface {
	Names() []string
	Lookup(name string) (any, error)
}

// ErrNotFound is returned by Lookup for names the source does not carry.
var ErrNotFound = errors.New("setting not found")

// Map is a static Source.
type Map map[string]any

func (m Map) Names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (m Map) Lookup(name string) (any, error) {
	v, ok := m[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Entry is a named accessor evaluated at dump time.
type Entry struct {
	Name string
	Get  func() (any, error)
}

// Entries is a Source over explicit accessors, in declared order.
type Entries []Entry

func (es Entries) Names() []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Name)
	}
	return out
}

func (es Entries) Lookup(name string) (any, error) {
	// last declaration wins, same as Map assignment
	for i := len(es) - 1; i >= 0; i-- {
		if es[i].Name != name {
			continue
		}
		if es[i].Get == nil {
			return nil, nil
		}
		return es[i].Get()
	}
	return nil, ErrNotFound
}

type structSource struct {
	v      reflect.Value
	fields map[string][]int
	order  []string
}

// Struct exposes the exported fields of a struct, or pointer to struct, as
// settings. The name comes from the `setting:"NAME"` tag, or the field name
// converted to UPPER_SNAKE when untagged. `setting:"-"` hides a field.
// Passing a pointer makes lookups see later writes to the struct.
func Struct(v any) Source {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return &structSource{fields: map[string][]int{}}
	}
	for rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	s := &structSource{v: rv, fields: map[string][]int{}}

	t := rv.Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return s
	}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Tag.Get("setting")
		if name == "-" {
			continue
		}
		if name == "" {
			name = UpperSnake(f.Name)
		}
		if _, dup := s.fields[name]; !dup {
			s.order = append(s.order, name)
		}
		s.fields[name] = f.Index
	}
	return s
}

func (s *structSource) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *structSource) Lookup(name string) (any, error) {
	idx, ok := s.fields[name]
	if !ok {
		return nil, ErrNotFound
	}
	rv := s.v
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, xerrors.Newf("read %s: nil config", name)
		}
		rv = rv.Elem()
	}
	fv, err := rv.FieldByIndexErr(idx)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", name)
	}
	return fv.Interface(), nil
}

type merged []Source

// Merge layers sources: names are the union and later sources win lookups.
func Merge(srcs ...Source) Source {
	out := make(merged, 0, len(srcs))
	for _, s := range srcs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m merged) Names() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range m {
		for _, n := range s.Names() {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func (m merged) Lookup(name string) (any, error) {
	for i := len(m) - 1; i >= 0; i-- {
		for _, n := range m[i].Names() {
			if n == name {
				return m[i].Lookup(name)
			}
		}
	}
	return nil, ErrNotFound
}

// UpperSnake converts a Go identifier to UPPER_SNAKE, keeping initialisms
// together: HTTPPort -> HTTP_PORT, LogJSON -> LOG_JSON.
func UpperSnake(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
