package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidScheduleFormat is returned for anything that is not five
// whitespace-separated fields of the supported grammar.
var ErrInvalidScheduleFormat = errors.New("invalid schedule format")

// FieldKind is the shape of a single cron field.
type FieldKind int

const (
	Wildcard FieldKind = iota
	Single
	List
	Step
)

func (k FieldKind) String() string {
	switch k {
	case Wildcard:
		return "wildcard"
	case Single:
		return "single"
	case List:
		return "list"
	case Step:
		return "step"
	default:
		return "unknown"
	}
}

// Field is one parsed cron field.
//
// Values holds one entry for Single and Step (the divisor), one or more for
// List in input order, and nothing for Wildcard.
type Field struct {
	Kind   FieldKind
	Values []int
}

func (f Field) String() string {
	switch f.Kind {
	case Wildcard:
		return "*"
	case Step:
		return "*/" + strconv.Itoa(f.first())
	case List:
		parts := make([]string, len(f.Values))
		for i, v := range f.Values {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, ",")
	default:
		return strconv.Itoa(f.first())
	}
}

func (f Field) first() int {
	if len(f.Values) == 0 {
		return 0
	}
	return f.Values[0]
}

// Expression is a parsed 5-field schedule.
type Expression struct {
	Minute     Field
	Hour       Field
	DayOfMonth Field
	Month      Field
	Weekday    Field
}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "weekday"}

// Parse parses a 5-field cron string.
//
// Values are not range checked. A step's base ("5/15") is discarded: the
// step always starts at the field minimum, so it serializes back as "*/15".
func Parse(raw string) (Expression, error) {
	parts := strings.Fields(raw)
	if len(parts) != 5 {
		return Expression{}, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrInvalidScheduleFormat, len(parts), raw)
	}
	var fields [5]Field
	for i, p := range parts {
		f, err := parseField(p)
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %s field %q: %v", ErrInvalidScheduleFormat, fieldNames[i], p, err)
		}
		fields[i] = f
	}
	return Expression{
		Minute:     fields[0],
		Hour:       fields[1],
		DayOfMonth: fields[2],
		Month:      fields[3],
		Weekday:    fields[4],
	}, nil
}

// MustParse is Parse that panics; for tests and constants.
func MustParse(raw string) Expression {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

func parseField(p string) (Field, error) {
	switch {
	case p == "*":
		return Field{Kind: Wildcard}, nil
	case strings.Contains(p, "/"):
		_, div, _ := strings.Cut(p, "/")
		n, err := strconv.Atoi(div)
		if err != nil {
			return Field{}, fmt.Errorf("step %q is not an integer", div)
		}
		return Field{Kind: Step, Values: []int{n}}, nil
	case strings.Contains(p, ","):
		items := strings.Split(p, ",")
		vals := make([]int, 0, len(items))
		for _, it := range items {
			n, err := strconv.Atoi(it)
			if err != nil {
				return Field{}, fmt.Errorf("list item %q is not an integer", it)
			}
			vals = append(vals, n)
		}
		return Field{Kind: List, Values: vals}, nil
	default:
		n, err := strconv.Atoi(p)
		if err != nil {
			return Field{}, fmt.Errorf("%q is not an integer", p)
		}
		return Field{Kind: Single, Values: []int{n}}, nil
	}
}

// String serializes the expression back to cron text.
func (e Expression) String() string {
	return strings.Join([]string{
		e.Minute.String(),
		e.Hour.String(),
		e.DayOfMonth.String(),
		e.Month.String(),
		e.Weekday.String(),
	}, " ")
}

// Normalize parses raw and returns its canonical serialization.
func Normalize(raw string) (string, error) {
	e, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}
