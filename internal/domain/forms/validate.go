package forms

import "sort"

// Result is the outcome of one validation. Exactly one of Value and Fields is set.
type Result struct {
	// Value holds the accepted metadata keyed by field id.
	Value map[string]any
	// Fields maps field ids, or CatchAll, to ordered error codes.
	Fields map[string][]string
}

// OK reports whether the input was accepted.
func (r Result) OK() bool { return len(r.Fields) == 0 }

// Err returns a *ValidationError for rejected input and nil otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Fields: r.Fields}
}

// Validate checks input against every field in schema order and collects all
// violations. Absent keys and explicit nulls count as not provided. Keys not
// declared by the schema are reported under CatchAll.
func (v *Validator) Validate(input map[string]any) Result {
	fields := make(map[string][]string)
	value := make(map[string]any, len(v.rules))

	for _, r := range v.rules {
		raw, ok := input[r.id]
		if !ok || raw == nil {
			if r.required {
				fields[r.id] = append(fields[r.id], CodeRequired)
			}
			continue
		}
		norm, errs := r.check(raw)
		if len(errs) > 0 {
			fields[r.id] = append(fields[r.id], errs...)
			continue
		}
		value[r.id] = norm
	}

	var unknown []string
	for k := range input {
		if _, ok := v.known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		fields[CatchAll] = append(fields[CatchAll], CodeUnrecognizedKey+": "+k)
	}

	if len(fields) > 0 {
		return Result{Fields: fields}
	}
	return Result{Value: value}
}
