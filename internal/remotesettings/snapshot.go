package remotesettings

import (
	"sort"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-echo/internal/cryptoutil"
)

// Snapshot is one fetched view of the parameter tree. Values is keyed by
// setting name and never mutated after construction.
type Snapshot struct {
	Values   map[string]any
	Revision string
	LoadedAt time.Time
}

// NewSnapshot computes the revision over values.
func NewSnapshot(values map[string]any) *Snapshot {
	if values == nil {
		values = map[string]any{}
	}
	return &Snapshot{
		Values:   values,
		Revision: revision(values),
		LoadedAt: time.Now().UTC(),
	}
}

// revision is a sha256 over the sorted name=value lines. StringList values
// are joined with commas, matching how SSM stores them.
func revision(values map[string]any) string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString(k)
		b.WriteByte('=')
		switch v := values[k].(type) {
		case []string:
			b.WriteString(strings.Join(v, ","))
		case string:
			b.WriteString(v)
		}
		b.WriteByte('\n')
	}
	return cryptoutil.SHA256Hex([]byte(b.String()))
}
