// Package cron parses five-field cron expressions and computes occurrence
// times. Supported field shapes are wildcard, single value, range, step and
// comma-separated lists; the named presets @hourly, @daily, @weekly,
// @monthly, @yearly and @every_minute expand to their classic equivalents.
package cron

import (
	"fmt"
	"strings"
	"time"
)

// ParseError describes a malformed cron expression.
type ParseError struct {
	Expression string
	Problem    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %s", e.Expression, e.Problem)
}

var presets = map[string]string{
	"@hourly":       "0 * * * *",
	"@daily":        "0 0 * * *",
	"@weekly":       "0 0 * * 0",
	"@monthly":      "0 0 1 * *",
	"@yearly":       "0 0 1 1 *",
	"@every_minute": "* * * * *",
}

// Expression is a parsed cron expression bound to a time zone.
type Expression struct {
	raw string
	loc *time.Location

	minute *field
	hour   *field
	dom    *field
	month  *field
	dow    *field
}

// Parse parses a cron expression or preset in UTC.
func Parse(expr string) (*Expression, error) {
	return ParseInLocation(expr, time.UTC)
}

// ParseInLocation parses a cron expression or preset bound to the given
// time zone. Occurrence queries evaluate the five fields in that zone.
func ParseInLocation(expr string, loc *time.Location) (*Expression, error) {
	if loc == nil {
		loc = time.UTC
	}

	raw := strings.TrimSpace(expr)
	spec := raw
	if strings.HasPrefix(spec, "@") {
		expanded, ok := presets[spec]
		if !ok {
			return nil, &ParseError{Expression: raw, Problem: fmt.Sprintf("unknown preset %q", spec)}
		}
		spec = expanded
	}

	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return nil, &ParseError{
			Expression: raw,
			Problem:    fmt.Sprintf("expected 5 fields (minute hour day-of-month month day-of-week), got %d", len(parts)),
		}
	}

	e := &Expression{raw: raw, loc: loc}
	var err error
	if e.minute, err = parseField(parts[0], minuteBounds); err != nil {
		return nil, &ParseError{Expression: raw, Problem: "minute field: " + err.Error()}
	}
	if e.hour, err = parseField(parts[1], hourBounds); err != nil {
		return nil, &ParseError{Expression: raw, Problem: "hour field: " + err.Error()}
	}
	if e.dom, err = parseField(parts[2], domBounds); err != nil {
		return nil, &ParseError{Expression: raw, Problem: "day-of-month field: " + err.Error()}
	}
	if e.month, err = parseField(parts[3], monthBounds); err != nil {
		return nil, &ParseError{Expression: raw, Problem: "month field: " + err.Error()}
	}
	if e.dow, err = parseField(parts[4], dowBounds); err != nil {
		return nil, &ParseError{Expression: raw, Problem: "day-of-week field: " + err.Error()}
	}

	return e, nil
}

// Validate reports whether expr is a parseable cron expression or preset.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the original expression text.
func (e *Expression) String() string {
	return e.raw
}

// Location returns the time zone the expression evaluates in.
func (e *Expression) Location() *time.Location {
	return e.loc
}
