package settings

import (
	"fmt"
	"sort"
	"unicode"
)

// Snapshot maps setting names to JSON-safe values.
type Snapshot map[string]any

// Dump reads every public, upper-case name from src and classifies its
// value. Names are visited in sorted order. A failing or panicking lookup
// is recorded as "<error accessing setting: ...>" and the dump continues.
func Dump(src Source) Snapshot {
	out := Snapshot{}
	if src == nil {
		return out
	}
	names := src.Names()
	sort.Strings(names)
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		if !Public(name) {
			continue
		}
		out[name] = read(src, name)
	}
	return out
}

// Public reports whether name is dumped: no leading underscore and fully
// upper-case (at least one cased letter, none lower or title case).
func Public(name string) bool {
	if name == "" || name[0] == '_' {
		return false
	}
	cased := false
	for _, r := range name {
		switch {
		case unicode.IsLower(r), unicode.IsTitle(r):
			return false
		case unicode.IsUpper(r):
			cased = true
		}
	}
	return cased
}

func read(src Source, name string) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = errorPlaceholder(fmt.Errorf("%v", r))
		}
	}()
	v, err := src.Lookup(name)
	if err != nil {
		return errorPlaceholder(err)
	}
	return Classify(v)
}

func errorPlaceholder(err error) string {
	return fmt.Sprintf("<error accessing setting: %v>", err)
}
