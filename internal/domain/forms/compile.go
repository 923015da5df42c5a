package forms

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const minPhoneLength = 7

// checkFunc validates one present value and returns its normalized form.
type checkFunc func(v any) (any, []string)

type rule struct {
	id       string
	required bool
	check    checkFunc
}

// Validator applies a compiled schema to metadata. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	rules []rule
	known map[string]struct{}
}

// Compile turns a schema into a Validator. Patterns and date bounds are
// resolved here so that Validate never fails on the schema itself.
func Compile(s *Schema) (*Validator, error) {
	if s == nil {
		return nil, &SchemaError{Problems: []string{"schema: missing"}}
	}
	if err := s.Check(); err != nil {
		return nil, err
	}

	v := &Validator{
		rules: make([]rule, 0, len(s.Fields)),
		known: make(map[string]struct{}, len(s.Fields)),
	}
	serr := &SchemaError{}
	for i, f := range s.Fields {
		check, err := compileField(f)
		if err != nil {
			serr.add(nil, "fields[%d]: %v", i, err)
			continue
		}
		h := f.Header()
		v.rules = append(v.rules, rule{id: h.ID, required: h.Required, check: check})
		v.known[h.ID] = struct{}{}
	}
	if err := serr.orNil(); err != nil {
		return nil, err
	}
	return v, nil
}

// MustCompile is like Compile but panics on error. Intended for fixtures.
func MustCompile(s *Schema) *Validator {
	v, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return v
}

func compileField(f Field) (checkFunc, error) {
	required := f.Header().Required
	switch f := f.(type) {
	case TextField:
		var re *regexp.Regexp
		if f.Pattern != "" {
			var err error
			if re, err = regexp.Compile(f.Pattern); err != nil {
				return nil, fmt.Errorf("pattern: %w", err)
			}
		}
		return textCheck(required, f.MaxLength, re), nil
	case TextareaField:
		return textCheck(required, f.MaxLength, nil), nil
	case NumberField:
		return numberCheck(f.Min, f.Max), nil
	case SelectField:
		allowed := make(map[string]struct{}, len(f.Options))
		for _, o := range f.Options {
			allowed[o.Value] = struct{}{}
		}
		return selectCheck(allowed), nil
	case CheckboxField:
		return boolCheck, nil
	case SignatureToggleField:
		return boolCheck, nil
	case DateField:
		lo, err := boundDate(f.MinDate)
		if err != nil {
			return nil, err
		}
		hi, err := boundDate(f.MaxDate)
		if err != nil {
			return nil, err
		}
		return dateCheck(lo, hi), nil
	case PhoneField:
		return phoneCheck(required), nil
	case EmailField:
		return emailCheck, nil
	case PhotoCountField:
		return photoCountCheck(f.Min, f.Max), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFieldType, f)
	}
}

func textCheck(required bool, maxLen *int, re *regexp.Regexp) checkFunc {
	return func(v any) (any, []string) {
		s, ok := v.(string)
		if !ok {
			return nil, []string{CodeExpectedString}
		}
		var errs []string
		if required && s == "" {
			errs = append(errs, CodeRequired)
		}
		if maxLen != nil && utf8.RuneCountInString(s) > *maxLen {
			errs = append(errs, CodeTooLong)
		}
		if re != nil && !re.MatchString(s) {
			errs = append(errs, CodePatternMismatch)
		}
		return s, errs
	}
}

func numberCheck(lo, hi *float64) checkFunc {
	return func(v any) (any, []string) {
		n, ok := toFloat(v)
		if !ok {
			return nil, []string{CodeExpectedNumber}
		}
		return n, bounds(n, lo, hi)
	}
}

func photoCountCheck(lo, hi *int) checkFunc {
	var flo, fhi *float64
	if lo != nil {
		x := float64(*lo)
		flo = &x
	}
	if hi != nil {
		x := float64(*hi)
		fhi = &x
	}
	return func(v any) (any, []string) {
		n, ok := toFloat(v)
		if !ok {
			return nil, []string{CodeExpectedNumber}
		}
		if n != math.Trunc(n) || math.Abs(n) >= math.Ldexp(1, 63) {
			return nil, []string{CodeExpectedInteger}
		}
		return int64(n), bounds(n, flo, fhi)
	}
}

func bounds(n float64, lo, hi *float64) []string {
	var errs []string
	if lo != nil && n < *lo {
		errs = append(errs, CodeTooSmall)
	}
	if hi != nil && n > *hi {
		errs = append(errs, CodeTooBig)
	}
	return errs
}

func selectCheck(allowed map[string]struct{}) checkFunc {
	return func(v any) (any, []string) {
		s, ok := v.(string)
		if !ok {
			return nil, []string{CodeExpectedString}
		}
		if _, ok := allowed[s]; !ok {
			return nil, []string{CodeInvalidSelect}
		}
		return s, nil
	}
}

func boolCheck(v any) (any, []string) {
	b, ok := v.(bool)
	if !ok {
		return nil, []string{CodeExpectedBoolean}
	}
	return b, nil
}

func dateCheck(lo, hi *time.Time) checkFunc {
	return func(v any) (any, []string) {
		s, ok := v.(string)
		if !ok {
			return nil, []string{CodeExpectedString}
		}
		t, ok := parseDate(s)
		if !ok {
			return nil, []string{CodeInvalidDate}
		}
		var errs []string
		if lo != nil && t.Before(*lo) {
			errs = append(errs, CodeDateTooEarly)
		}
		if hi != nil && t.After(*hi) {
			errs = append(errs, CodeDateTooLate)
		}
		return s, errs
	}
}

func phoneCheck(required bool) checkFunc {
	return func(v any) (any, []string) {
		s, ok := v.(string)
		if !ok {
			return nil, []string{CodeExpectedString}
		}
		if required && utf8.RuneCountInString(s) < minPhoneLength {
			return nil, []string{CodeTooShort}
		}
		return s, nil
	}
}

// emailPattern follows the common web form rule: dotted local part, a
// hostname of labels and an alphabetic TLD of two or more letters.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9_'+\-.]*[A-Za-z0-9_+\-]@([A-Za-z0-9][A-Za-z0-9\-]*\.)+[A-Za-z]{2,}$`)

func emailCheck(v any) (any, []string) {
	s, ok := v.(string)
	if !ok {
		return nil, []string{CodeExpectedString}
	}
	if strings.HasPrefix(s, ".") || strings.Contains(s, "..") || !emailPattern.MatchString(s) {
		return nil, []string{CodeInvalidEmail}
	}
	return s, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return toFloat(float64(n))
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
