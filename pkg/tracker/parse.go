package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

// ParsePosts decodes a JSON array of post objects. Blank input yields an
// empty list.
func ParsePosts(data []byte) ([]json.RawMessage, error) {
	raw, err := parseArray("posts", data)
	if err != nil {
		return nil, err
	}
	return normalizeObjects("posts", raw)
}

// ParseQuotes decodes a JSON array of quotes. Quotes may be any JSON value.
func ParseQuotes(data string) ([]json.RawMessage, error) {
	raw, err := parseArray("quotes", []byte(data))
	if err != nil {
		return nil, err
	}
	return normalizeValues("quotes", raw)
}

// ParseStringList decodes a JSON array of strings for the named field.
func ParseStringList(field, data string) ([]string, error) {
	if strings.TrimSpace(data) == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, &session.InputError{Field: field, Reason: "want a JSON array of strings: " + err.Error()}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseArray(field string, data []byte) ([]json.RawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []json.RawMessage{}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &session.InputError{Field: field, Reason: "want a JSON array: " + err.Error()}
	}
	if raw == nil {
		raw = []json.RawMessage{}
	}
	return raw, nil
}

// normalizeObjects checks that every element is a JSON object and returns
// compacted copies.
func normalizeObjects(field string, in []json.RawMessage) ([]json.RawMessage, error) {
	out, err := normalizeValues(field, in)
	if err != nil {
		return nil, err
	}
	for i, m := range out {
		if m[0] != '{' {
			return nil, &session.InputError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "want a JSON object"}
		}
	}
	return out, nil
}

// normalizeValues checks that every element is valid JSON and returns
// compacted copies.
func normalizeValues(field string, in []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(in))
	for i, m := range in {
		var buf bytes.Buffer
		if err := json.Compact(&buf, m); err != nil || buf.Len() == 0 {
			return nil, &session.InputError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "invalid JSON"}
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
