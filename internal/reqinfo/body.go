package reqinfo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"unicode/utf8"
)

// BinaryBody replaces a request body that is not valid UTF-8.
const BinaryBody = "<binary data>"

const maxMultipartParts = 1000

// decodeBody returns structured data when the body parses as the declared
// content type and is non-empty, otherwise the body as text, BinaryBody, or
// nil when there is no body.
func decodeBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if v, ok := parseStructured(contentType, body); ok && truthy(v) {
		return v
	}
	if utf8.Valid(body) {
		return string(body)
	}
	return BinaryBody
}

func parseStructured(contentType string, body []byte) (any, bool) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, false
	}
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return parseJSON(body)
	case mt == "application/x-www-form-urlencoded":
		if !utf8.Valid(body) {
			return nil, false
		}
		return parseQuery(string(body)), true
	case mt == "multipart/form-data":
		return parseMultipart(body, params["boundary"])
	}
	return nil, false
}

func parseJSON(body []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// trailing data makes the whole document invalid
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}

func parseMultipart(body []byte, boundary string) (any, bool) {
	if boundary == "" {
		return nil, false
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	out := map[string]any{}
	for i := 0; i < maxMultipartParts; i++ {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, true
		}
		if err != nil {
			return nil, false
		}
		name := p.FormName()
		if name == "" {
			p.Close()
			continue
		}
		data, err := io.ReadAll(p)
		p.Close()
		if err != nil {
			return nil, false
		}
		if fn := p.FileName(); fn != "" {
			out[name] = fmt.Sprintf("<file: %s (%d bytes)>", fn, len(data))
			continue
		}
		if utf8.Valid(data) {
			out[name] = string(data)
		} else {
			out[name] = BinaryBody
		}
	}
	return out, true
}

// parseQuery flattens a query string, keeping the last value for each key.
// Pairs that fail to unescape keep their raw text.
func parseQuery(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		out[unescape(k)] = unescape(v)
	}
	return out
}

func unescape(s string) string {
	u, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return u
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case map[string]any:
		return len(x) > 0
	case map[string]string:
		return len(x) > 0
	case []any:
		return len(x) > 0
	}
	return true
}
