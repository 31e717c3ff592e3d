package settings

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
)

// Path marks a filesystem path setting; it is dumped as a plain string.
type Path string

func (p Path) String() string { return string(p) }

// Classify converts a setting value into something that always encodes as
// JSON, in priority order: funcs, paths, package-defined objects, then a
// json.Marshal attempt that keeps the original value on success and falls back
// to fmt.Sprint on failure.
func Classify(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)

	if rv.Kind() == reflect.Func {
		return fmt.Sprintf("<callable: %s>", funcRepr(rv))
	}

	switch p := v.(type) {
	case Path:
		return string(p)
	case *Path:
		if p != nil {
			return string(*p)
		}
	}

	if isObject(rv.Type()) {
		return fmt.Sprintf("<object: %v>", v)
	}

	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

func funcRepr(rv reflect.Value) string {
	if rv.IsNil() {
		return "<nil>"
	}
	name := "func"
	if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("<function %s at %#x>", name, rv.Pointer())
}

// isObject reports values of a named type declared in some package whose
// kind is not one of the plain data kinds (string, bool, numbers, slices,
// arrays, maps). Named slices and maps, and named numeric types such as
// time.Duration, stay plain data.
func isObject(t reflect.Type) bool {
	named := t
	if named.Kind() == reflect.Ptr && named.Name() == "" {
		named = named.Elem()
	}
	if named.PkgPath() == "" {
		return false
	}
	switch named.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Slice, reflect.Array, reflect.Map:
		return false
	}
	return true
}
