package forms

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/jsonc"
)

// Version is the only schema document version this package reads.
const Version = 1

// Schema is a parsed form schema document.
type Schema struct {
	Version int
	Fields  []Field
}

type wireSchema struct {
	Version *int         `json:"version"`
	Fields  *[]wireField `json:"fields"`
}

// wireField is the flat persisted shape of every field kind. Keys that do
// not apply to a kind are ignored, as are keys this version does not know.
type wireField struct {
	ID          string   `json:"id"`
	Type        Kind     `json:"type"`
	Label       string   `json:"label"`
	Required    bool     `json:"required,omitempty"`
	HelpText    string   `json:"helpText,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	MaxLength   *float64 `json:"maxLength,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Rows        *float64 `json:"rows,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Step        *float64 `json:"step,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Options     []Option `json:"options,omitempty"`
	MinDate     string   `json:"minDate,omitempty"`
	MaxDate     string   `json:"maxDate,omitempty"`
}

// Parse decodes a schema document and checks its structure. Comments and
// trailing commas are tolerated so hand-written fixtures can be loaded as is.
func Parse(data []byte) (*Schema, error) {
	var w wireSchema
	if err := json.Unmarshal(jsonc.ToJSON(data), &w); err != nil {
		return nil, &SchemaError{Problems: []string{"decode: " + err.Error()}}
	}

	serr := &SchemaError{}
	switch {
	case w.Version == nil:
		serr.add(ErrUnsupportedVersion, "version: required")
	case *w.Version != Version:
		serr.add(ErrUnsupportedVersion, "version: %d is not supported", *w.Version)
	}
	if w.Fields == nil {
		serr.add(nil, "fields: required")
		return nil, serr
	}

	s := &Schema{Version: Version, Fields: make([]Field, 0, len(*w.Fields))}
	for i, wf := range *w.Fields {
		f, ok := wf.decode(serr, fmt.Sprintf("fields[%d]", i))
		if ok {
			s.Fields = append(s.Fields, f)
		}
	}
	if err := serr.orNil(); err != nil {
		return nil, err
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (w wireField) decode(serr *SchemaError, at string) (Field, bool) {
	c := Common{ID: w.ID, Label: w.Label, Required: w.Required, HelpText: w.HelpText}
	before := len(serr.Problems)
	whole := func(name string, v *float64) *int {
		if v == nil {
			return nil
		}
		if *v != math.Trunc(*v) || math.IsInf(*v, 0) {
			serr.add(nil, "%s.%s: must be an integer", at, name)
			return nil
		}
		n := int(*v)
		return &n
	}

	var f Field
	switch w.Type {
	case KindText:
		f = TextField{Common: c, MaxLength: whole("maxLength", w.MaxLength), Pattern: w.Pattern, Placeholder: w.Placeholder}
	case KindTextarea:
		f = TextareaField{Common: c, MaxLength: whole("maxLength", w.MaxLength), Rows: whole("rows", w.Rows)}
	case KindNumber:
		f = NumberField{Common: c, Min: w.Min, Max: w.Max, Step: w.Step, Unit: w.Unit}
	case KindSelect:
		f = SelectField{Common: c, Options: w.Options}
	case KindCheckbox:
		f = CheckboxField{Common: c}
	case KindDate:
		f = DateField{Common: c, MinDate: w.MinDate, MaxDate: w.MaxDate}
	case KindPhone:
		f = PhoneField{Common: c}
	case KindEmail:
		f = EmailField{Common: c}
	case KindPhotoCount:
		f = PhotoCountField{Common: c, Min: whole("min", w.Min), Max: whole("max", w.Max)}
	case KindSignatureToggle:
		f = SignatureToggleField{Common: c}
	case "":
		serr.add(ErrUnknownFieldType, "%s.type: required", at)
	default:
		serr.add(ErrUnknownFieldType, "%s.type: %q is not a known field type", at, w.Type)
	}
	return f, f != nil && len(serr.Problems) == before
}

func encodeField(f Field) wireField {
	h := f.Header()
	w := wireField{ID: h.ID, Type: f.Kind(), Label: h.Label, Required: h.Required, HelpText: h.HelpText}
	float := func(n *int) *float64 {
		if n == nil {
			return nil
		}
		v := float64(*n)
		return &v
	}
	switch f := f.(type) {
	case TextField:
		w.MaxLength, w.Pattern, w.Placeholder = float(f.MaxLength), f.Pattern, f.Placeholder
	case TextareaField:
		w.MaxLength, w.Rows = float(f.MaxLength), float(f.Rows)
	case NumberField:
		w.Min, w.Max, w.Step, w.Unit = f.Min, f.Max, f.Step, f.Unit
	case SelectField:
		w.Options = f.Options
	case DateField:
		w.MinDate, w.MaxDate = f.MinDate, f.MaxDate
	case PhotoCountField:
		w.Min, w.Max = float(f.Min), float(f.Max)
	}
	return w
}

// MarshalJSON writes the persisted document shape.
func (s Schema) MarshalJSON() ([]byte, error) {
	fields := make([]wireField, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f == nil {
			continue
		}
		fields = append(fields, encodeField(f))
	}
	v := s.Version
	return json.Marshal(wireSchema{Version: &v, Fields: &fields})
}

// UnmarshalJSON parses a persisted document with the same rules as Parse.
func (s *Schema) UnmarshalJSON(data []byte) error {
	p, err := Parse(data)
	if err != nil {
		return err
	}
	*s = *p
	return nil
}

// Check reports every structural problem of a schema built in code or decoded.
func (s *Schema) Check() error {
	serr := &SchemaError{}
	if s.Version != Version {
		serr.add(ErrUnsupportedVersion, "version: %d is not supported", s.Version)
	}

	seen := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		at := fmt.Sprintf("fields[%d]", i)
		if f == nil {
			serr.add(nil, "%s: missing field", at)
			continue
		}
		h := f.Header()
		switch j, dup := seen[h.ID]; {
		case h.ID == "":
			serr.add(nil, "%s.id: must not be empty", at)
		case dup:
			serr.add(nil, "%s.id: %q duplicates fields[%d]", at, h.ID, j)
		default:
			seen[h.ID] = i
		}
		if h.Label == "" {
			serr.add(nil, "%s.label: must not be empty", at)
		}

		switch f := f.(type) {
		case TextField:
			positiveInt(serr, at+".maxLength", f.MaxLength)
		case TextareaField:
			positiveInt(serr, at+".maxLength", f.MaxLength)
			positiveInt(serr, at+".rows", f.Rows)
		case NumberField:
			if f.Step != nil && *f.Step <= 0 {
				serr.add(nil, "%s.step: must be positive", at)
			}
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				serr.add(nil, "%s: min exceeds max", at)
			}
		case SelectField:
			if len(f.Options) == 0 {
				serr.add(nil, "%s.options: at least one option is required", at)
			}
			for k, o := range f.Options {
				if o.Value == "" || o.Label == "" {
					serr.add(nil, "%s.options[%d]: value and label must not be empty", at, k)
				}
			}
		case DateField:
			if _, err := boundDate(f.MinDate); err != nil {
				serr.add(nil, "%s.minDate: %v", at, err)
			}
			if _, err := boundDate(f.MaxDate); err != nil {
				serr.add(nil, "%s.maxDate: %v", at, err)
			}
		case PhotoCountField:
			if f.Min != nil && *f.Min < 0 {
				serr.add(nil, "%s.min: must not be negative", at)
			}
			positiveInt(serr, at+".max", f.Max)
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				serr.add(nil, "%s: min exceeds max", at)
			}
		case CheckboxField, PhoneField, EmailField, SignatureToggleField:
		default:
			serr.add(ErrUnknownFieldType, "%s: unsupported field value %T", at, f)
		}
	}
	return serr.orNil()
}

func positiveInt(serr *SchemaError, at string, n *int) {
	if n != nil && *n <= 0 {
		serr.add(nil, "%s: must be a positive integer", at)
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseDate accepts calendar dates and timestamps. Values without a zone are UTC.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func boundDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, ok := parseDate(s)
	if !ok {
		return nil, fmt.Errorf("%q is not a date", s)
	}
	return &t, nil
}
