package wire

import "fmt"

// Result is the normalized outcome of an engine interaction. It is
// constructed exactly once, at the bridge boundary; every component above
// the bridge branches on Success and reads typed accessors instead of
// inspecting raw engine JSON.
type Result struct {
	Success bool                   `json:"success"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Err     string                 `json:"error,omitempty"`
}

// Ok builds a success Result carrying the engine's reply fields.
func Ok(fields map[string]interface{}) Result {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return Result{Success: true, Fields: fields}
}

// Errorf builds a failure Result with a formatted message.
func Errorf(format string, a ...interface{}) Result {
	return Result{Success: false, Err: fmt.Sprintf(format, a...)}
}

// String returns the string field under key, or "" when absent or not a string.
func (r Result) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Float returns the numeric field under key. JSON numbers decode as float64.
func (r Result) Float(key string) (float64, bool) {
	f, ok := r.Fields[key].(float64)
	return f, ok
}

// Strings returns the field under key as a string slice, tolerating the
// []interface{} shape produced by generic JSON decoding.
func (r Result) Strings(key string) []string {
	switch v := r.Fields[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the field under key as a generic map, or nil.
func (r Result) Map(key string) map[string]interface{} {
	m, _ := r.Fields[key].(map[string]interface{})
	return m
}
