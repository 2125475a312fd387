package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// bounds is the numeric range of one cron field.
type bounds struct {
	name string
	min  int
	max  int
}

var (
	minuteBounds = bounds{"minute", 0, 59}
	hourBounds   = bounds{"hour", 0, 23}
	domBounds    = bounds{"day-of-month", 1, 31}
	monthBounds  = bounds{"month", 1, 12}
	// 0 and 7 both mean Sunday; 7 is normalized to 0 during parsing.
	dowBounds = bounds{"day-of-week", 0, 7}
)

// field is one parsed cron field. bits holds the matching values as a
// bitset. star, single and the range markers record the syntactic shape the
// field was written in, which Describe uses to pick a wording.
type field struct {
	bits uint64
	star bool

	single  int // the single literal value, when singleOK
	singleOK bool
	rangeLo  int // the plain a-b range endpoints, when rangeOK
	rangeHi  int
	rangeOK  bool
}

func (f *field) match(v int) bool {
	return f.bits&(1<<uint(v)) != 0
}

func (f *field) set(v int) {
	f.bits |= 1 << uint(v)
}

// parseField parses one cron field: a comma-separated list of wildcard,
// single value, range, or step elements, each validated against b.
func parseField(expr string, b bounds) (*field, error) {
	if expr == "" {
		return nil, fmt.Errorf("field cannot be empty")
	}

	f := &field{}
	elements := strings.Split(expr, ",")
	for _, element := range elements {
		if element == "" {
			return nil, fmt.Errorf("empty list element in %q", expr)
		}
		if err := f.parseElement(element, b); err != nil {
			return nil, err
		}
	}

	// Shape markers only apply when the field is a single element.
	if len(elements) > 1 {
		f.star = false
		f.singleOK = false
		f.rangeOK = false
	}
	return f, nil
}

// parseElement parses one list element: "*", "v", "a-b" or "base/n" where
// base is "*" or a range.
func (f *field) parseElement(element string, b bounds) error {
	base := element
	step := 1

	if idx := strings.Index(element, "/"); idx >= 0 {
		base = element[:idx]
		stepStr := element[idx+1:]
		n, err := strconv.Atoi(stepStr)
		if err != nil {
			return fmt.Errorf("invalid step %q", stepStr)
		}
		if n <= 0 {
			return fmt.Errorf("step must be positive, got %d", n)
		}
		step = n
	}

	hasStep := step != 1 || strings.Contains(element, "/")

	switch {
	case base == "*":
		if !hasStep {
			f.star = true
		}
		for v := b.min; v <= b.max; v += step {
			f.set(normalize(v, b))
		}
		return nil

	case strings.Contains(base, "-"):
		lo, hi, err := parseRange(base, b)
		if err != nil {
			return err
		}
		if !hasStep {
			f.rangeLo, f.rangeHi, f.rangeOK = lo, hi, true
		}
		for v := lo; v <= hi; v += step {
			f.set(normalize(v, b))
		}
		return nil

	default:
		if hasStep {
			return fmt.Errorf("step base must be a wildcard or range, got %q", element)
		}
		v, err := parseValue(base, b)
		if err != nil {
			return err
		}
		v = normalize(v, b)
		f.single, f.singleOK = v, true
		f.set(v)
		return nil
	}
}

func parseRange(s string, b bounds) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	lo, err := parseValue(parts[0], b)
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseValue(parts[1], b)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("range start %d greater than end %d", lo, hi)
	}
	return lo, hi, nil
}

func parseValue(s string, b bounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", b.name, s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("%s value %d out of range %d-%d", b.name, v, b.min, b.max)
	}
	return v, nil
}

// normalize maps day-of-week 7 onto 0 (both mean Sunday).
func normalize(v int, b bounds) int {
	if b == dowBounds && v == 7 {
		return 0
	}
	return v
}
