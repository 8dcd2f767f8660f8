package ipa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// OptVersion is the option key carrying the API version tag.
const OptVersion = "version"

// Request describes one remote call.
type Request struct {
	Operation Operation
	Args      []any
	Options   map[string]any
}

// newRequest copies args and opts and injects version unless the caller set one.
func newRequest(op Operation, args []any, opts map[string]any, version string) *Request {
	a := make([]any, len(args))
	copy(a, args)

	o := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		o[k] = v
	}
	if _, ok := o[OptVersion]; !ok && version != "" {
		o[OptVersion] = version
	}

	return &Request{Operation: op, Args: a, Options: o}
}

// Result is the "result" member of a successful response.
type Result struct {
	// Result is an object for *_show, a list for *_find, a string for ping.
	Result    json.RawMessage `json:"result"`
	Count     int             `json:"count"`
	Truncated bool            `json:"truncated"`
	Summary   string          `json:"summary"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// Entry is one directory entry. Attribute values are usually single-element lists.
type Entry map[string]any

// Decode unmarshals the inner result into v. Numbers decoded into
// interfaces stay json.Number so certificate serials keep every digit.
func (r *Result) Decode(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("empty result")
	}
	dec := json.NewDecoder(bytes.NewReader(r.Result))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Entries decodes a *_find result.
func (r *Result) Entries() ([]Entry, error) {
	var entries []Entry
	if err := r.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Entry decodes a *_show result.
func (r *Result) Entry() (Entry, error) {
	var entry Entry
	if err := r.Decode(&entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// First returns the first value of attr. Attributes are returned either as a
// scalar or as a list depending on the server version.
func (e Entry) First(attr string) (any, bool) {
	v, ok := e[attr]
	if !ok || v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		return list[0], true
	}
	return v, true
}

// String returns the first value of attr as a string.
func (e Entry) String(attr string) string {
	v, ok := e.First(attr)
	if !ok {
		return ""
	}
	return scalar(v)
}

// Bool returns the first value of attr as a bool. Strings "TRUE"/"true" are accepted.
func (e Entry) Bool(attr string) bool {
	v, ok := e.First(attr)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "TRUE" || b == "true" || b == "True"
	default:
		return false
	}
}

// Strings returns every value of attr as strings.
func (e Entry) Strings(attr string) []string {
	v, ok := e[attr]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return []string{scalar(v)}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, scalar(item))
	}
	return out
}

// scalar renders an attribute value. Numbers never use exponent notation;
// a float64 only appears when the entry was not decoded through Decode.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
