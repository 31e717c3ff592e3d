package settings

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

type endpoint struct {
	Host string
	Port int
}

func (e endpoint) String() string { return e.Host + ":" + strconv.Itoa(e.Port) }

type hosts []string

func sampleHandler(http.ResponseWriter, *http.Request) {}

// Public

func TestPublic(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"DEBUG", true},
		{"HTTP_PORT", true},
		{"MAX_2", true},
		{"A1", true},
		{"_PRIVATE", false},
		{"__ALSO_PRIVATE", false},
		{"lower", false},
		{"Mixed_Case", false},
		{"HTTP_port", false},
		{"123", false},
		{"_", false},
		{"", false},
		{"ÜBER", true},
		{"ǅ", false},
	}
	for _, tt := range tests {
		if got := Public(tt.name); got != tt.want {
			t.Errorf("Public(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// Classify

func TestClassify_Callable(t *testing.T) {
	got, ok := Classify(sampleHandler).(string)
	if !ok || !strings.HasPrefix(got, "<callable: <function ") {
		t.Fatalf("Classify(func) = %v", got)
	}
	if !strings.Contains(got, "sampleHandler") {
		t.Fatalf("callable repr should name the function: %q", got)
	}

	// named func types are still callables
	got, _ = Classify(http.HandlerFunc(sampleHandler)).(string)
	if !strings.HasPrefix(got, "<callable: ") {
		t.Fatalf("Classify(HandlerFunc) = %q", got)
	}

	var nilFn func()
	if got := Classify(nilFn); got != "<callable: <nil>>" {
		t.Fatalf("Classify(nil func) = %v", got)
	}
}

func TestClassify_Path(t *testing.T) {
	if got := Classify(Path("/etc/echo/users.yaml")); got != "/etc/echo/users.yaml" {
		t.Fatalf("Classify(Path) = %#v", got)
	}
	p := Path("/var/lib")
	if got := Classify(&p); got != "/var/lib" {
		t.Fatalf("Classify(*Path) = %#v", got)
	}
}

func TestClassify_Object(t *testing.T) {
	got := Classify(endpoint{Host: "db", Port: 5})
	if got != "<object: db:5>" {
		t.Fatalf("Classify(struct) = %#v", got)
	}

	got = Classify(&endpoint{Host: "db", Port: 5})
	if got != "<object: db:5>" {
		t.Fatalf("Classify(*struct) = %#v", got)
	}

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s, _ := Classify(ts).(string)
	if !strings.HasPrefix(s, "<object: 2024-01-02") {
		t.Fatalf("Classify(time.Time) = %#v", s)
	}
}

func TestClassify_PlainDataKeepsOriginal(t *testing.T) {
	m := map[string]any{"a": 1}
	tests := []struct {
		name string
		in   any
	}{
		{"string", "info"},
		{"bool", true},
		{"int", 8080},
		{"float", 0.25},
		{"duration", 30 * time.Second},
		{"named slice", hosts{"a", "b"}},
		{"slice", []string{"x"}},
		{"map", m},
		{"anonymous struct", struct{ A int }{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			gb, _ := json.Marshal(got)
			wb, _ := json.Marshal(tt.in)
			if string(gb) != string(wb) {
				t.Fatalf("Classify changed value: got %s want %s", gb, wb)
			}
		})
	}
}

func TestClassify_UnserializableFallsBackToString(t *testing.T) {
	ch := make(chan int)
	if got, ok := Classify(ch).(string); !ok || got == "" {
		t.Fatalf("Classify(chan) = %#v, want string", got)
	}
	if got := Classify(math.NaN()); got != "NaN" {
		t.Fatalf("Classify(NaN) = %#v", got)
	}
	bad := map[string]any{"fn": func() {}}
	if _, ok := Classify(bad).(string); !ok {
		t.Fatal("map holding a func should fall back to string")
	}
	if got := Classify(complex(1, 2)); got != "(1+2i)" {
		t.Fatalf("Classify(complex) = %#v", got)
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Fatalf("Classify(nil) = %#v", got)
	}
}

// Dump

func TestDump_FiltersNames(t *testing.T) {
	snap := Dump(Map{
		"DEBUG":      true,
		"_SECRET":    "x",
		"lowercase":  1,
		"Mixed":      2,
		"ALLOWED_IP": "10.0.0.1",
	})
	if len(snap) != 2 {
		t.Fatalf("snapshot = %v, want DEBUG and ALLOWED_IP", snap)
	}
	for _, k := range []string{"_SECRET", "lowercase", "Mixed"} {
		if _, ok := snap[k]; ok {
			t.Errorf("%s should be filtered", k)
		}
	}
}

func TestDump_LookupErrorBecomesPlaceholder(t *testing.T) {
	snap := Dump(Entries{
		{Name: "BROKEN", Get: func() (any, error) { return nil, errors.New("vault sealed") }},
		{Name: "PANICS", Get: func() (any, error) { panic("boom") }},
		{Name: "FINE", Get: func() (any, error) { return "ok", nil }},
	})
	if snap["BROKEN"] != "<error accessing setting: vault sealed>" {
		t.Fatalf("BROKEN = %#v", snap["BROKEN"])
	}
	if snap["PANICS"] != "<error accessing setting: boom>" {
		t.Fatalf("PANICS = %#v", snap["PANICS"])
	}
	if snap["FINE"] != "ok" {
		t.Fatalf("FINE = %#v", snap["FINE"])
	}
}

func TestDump_AlwaysEncodes(t *testing.T) {
	snap := Dump(Map{
		"CHAN":     make(chan struct{}),
		"FUNC":     sampleHandler,
		"OBJ":      &endpoint{Host: "h", Port: 1},
		"PATH":     Path("/tmp"),
		"NAN":      math.Inf(1),
		"NESTED":   map[string]any{"x": []any{1, "two", nil}},
		"NIL":      nil,
		"DURATION": time.Minute,
	})
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("snapshot does not encode: %v", err)
	}
	if !strings.Contains(string(b), `"PATH":"/tmp"`) {
		t.Fatalf("encoded = %s", b)
	}
	if !strings.Contains(string(b), `"NIL":null`) {
		t.Fatalf("encoded = %s", b)
	}
}

func TestDump_NilSource(t *testing.T) {
	if snap := Dump(nil); len(snap) != 0 {
		t.Fatalf("Dump(nil) = %v", snap)
	}
}

// Struct source

type appConfig struct {
	HTTPPort     int    `setting:"HTTP_PORT"`
	LogLevel     string `setting:"LOG_LEVEL"`
	Secret       string `setting:"-"`
	OTLPEndpoint string
	UsersFile    Path
	internal     string
}

func TestStruct_NamesAndValues(t *testing.T) {
	c := &appConfig{HTTPPort: 8080, LogLevel: "info", Secret: "s", OTLPEndpoint: "localhost:4317", UsersFile: "/etc/users.yaml", internal: "x"}
	src := Struct(c)

	names := src.Names()
	want := []string{"HTTP_PORT", "LOG_LEVEL", "OTLP_ENDPOINT", "USERS_FILE"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", names, want)
	}

	// pointer sources see later writes
	c.HTTPPort = 9090
	v, err := src.Lookup("HTTP_PORT")
	if err != nil || v != 9090 {
		t.Fatalf("Lookup(HTTP_PORT) = %v, %v", v, err)
	}

	if _, err := src.Lookup("SECRET"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("hidden field lookup err = %v, want ErrNotFound", err)
	}

	snap := Dump(src)
	if snap["USERS_FILE"] != "/etc/users.yaml" {
		t.Fatalf("USERS_FILE = %#v", snap["USERS_FILE"])
	}
}

func TestStruct_NonStruct(t *testing.T) {
	if n := Struct(42).Names(); len(n) != 0 {
		t.Fatalf("Struct(int).Names() = %v", n)
	}
	if n := Struct(nil).Names(); len(n) != 0 {
		t.Fatalf("Struct(nil).Names() = %v", n)
	}
}

// Merge

func TestMerge_LaterWins(t *testing.T) {
	base := Map{"A": 1, "B": 2}
	overlay := Map{"B": 20, "C": 30}
	m := Merge(base, nil, overlay)

	snap := Dump(m)
	if snap["A"] != 1 || snap["B"] != 20 || snap["C"] != 30 {
		t.Fatalf("merged = %v", snap)
	}
	if _, err := m.Lookup("Z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing lookup err = %v", err)
	}
}

// UpperSnake

func TestUpperSnake(t *testing.T) {
	tests := map[string]string{
		"HTTPPort":       "HTTP_PORT",
		"LogJSON":        "LOG_JSON",
		"EnablePprof":    "ENABLE_PPROF",
		"OTLPEndpoint":   "OTLP_ENDPOINT",
		"MaxErrorLinks":  "MAX_ERROR_LINKS",
		"BuildId":        "BUILD_ID",
		"Port2":          "PORT2",
		"S3Bucket":       "S3_BUCKET",
		"already":        "ALREADY",
		"TraceSample":    "TRACE_SAMPLE",
		"RateLimitBurst": "RATE_LIMIT_BURST",
	}
	for in, want := range tests {
		if got := UpperSnake(in); got != want {
			t.Errorf("UpperSnake(%q) = %q, want %q", in, got, want)
		}
	}
}
