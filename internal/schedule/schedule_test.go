package schedule

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseFieldKinds(t *testing.T) {
	t.Parallel()
	e, err := Parse("*/15 9 1,15 * 1,3,5")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	checks := []struct {
		name string
		got  Field
		want Field
	}{
		{"minute", e.Minute, Field{Kind: Step, Values: []int{15}}},
		{"hour", e.Hour, Field{Kind: Single, Values: []int{9}}},
		{"day", e.DayOfMonth, Field{Kind: List, Values: []int{1, 15}}},
		{"month", e.Month, Field{Kind: Wildcard}},
		{"weekday", e.Weekday, Field{Kind: List, Values: []int{1, 3, 5}}},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.got, c.want) {
			t.Fatalf("%s = %+v, want %+v", c.name, c.got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"a * * * *",
		"*/x * * * *",
		"1,b * * * *",
	} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidScheduleFormat) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidScheduleFormat", raw, err)
		}
	}
}

func TestParseIsPermissiveOnRanges(t *testing.T) {
	t.Parallel()
	e, err := Parse("75 30 40 13 9")
	if err != nil {
		t.Fatalf("out-of-range values should pass through, got %v", err)
	}
	if e.Minute.Values[0] != 75 || e.Weekday.Values[0] != 9 {
		t.Fatalf("values not preserved: %+v", e)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{"0 9 * * *", "0 9 * * *"},
		{"0,15,30,45 * * * *", "0,15,30,45 * * * *"},
		{"  5   4  *  *   0 ", "5 4 * * 0"},
		{"*/15 * * * *", "*/15 * * * *"},
		{"5/15 * * * *", "*/15 * * * *"},
		{"0 9 * * 5,1,3", "0 9 * * 5,1,3"},
	}
	for _, tt := range tests {
		e, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.raw, err)
		}
		if got := e.String(); got != tt.want {
			t.Fatalf("String(%q) = %q, want %q", tt.raw, got, tt.want)
		}
		again, err := Parse(e.String())
		if err != nil {
			t.Fatalf("reparse %q: %v", e.String(), err)
		}
		if !reflect.DeepEqual(again, e) {
			t.Fatalf("round trip mismatch for %q: %+v vs %+v", tt.raw, again, e)
		}
	}
}

func ptrVal(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestCompileSingleValues(t *testing.T) {
	t.Parallel()
	got := Compile(MustParse("0 9 * * *"))
	if len(got) != 1 {
		t.Fatalf("intervals = %d, want 1", len(got))
	}
	iv := got[0]
	if ptrVal(iv.Minute) != 0 || ptrVal(iv.Hour) != 9 {
		t.Fatalf("minute/hour = %v/%v, want 0/9", ptrVal(iv.Minute), ptrVal(iv.Hour))
	}
	if iv.Day != nil || iv.Month != nil || iv.Weekday != nil {
		t.Fatalf("wildcards should be omitted: %+v", iv)
	}
	if iv.Index != -1 {
		t.Fatalf("Index = %d, want -1", iv.Index)
	}
}

func TestCompileStepAndListReduction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		minute any
		hour   any
	}{
		{"*/15 * * * *", 15, nil},
		{"0,15,30,45 8,20 * * *", 0, 8},
		{"30 */6 * * *", 30, 6},
	}
	for _, tt := range tests {
		got := Compile(MustParse(tt.raw))
		if len(got) != 1 {
			t.Fatalf("%q: intervals = %d, want 1", tt.raw, len(got))
		}
		if ptrVal(got[0].Minute) != tt.minute || ptrVal(got[0].Hour) != tt.hour {
			t.Fatalf("%q: minute/hour = %v/%v, want %v/%v", tt.raw, ptrVal(got[0].Minute), ptrVal(got[0].Hour), tt.minute, tt.hour)
		}
	}
}

func TestCompileWeekdayExpansion(t *testing.T) {
	t.Parallel()
	got := Compile(MustParse("0 9 * * 1,3,5"))
	if len(got) != 3 {
		t.Fatalf("intervals = %d, want 3", len(got))
	}
	for i, want := range []int{1, 3, 5} {
		iv := got[i]
		if iv.Index != i {
			t.Fatalf("interval %d Index = %d", i, iv.Index)
		}
		if ptrVal(iv.Weekday) != want || ptrVal(iv.Hour) != 9 || ptrVal(iv.Minute) != 0 {
			t.Fatalf("interval %d = weekday %v hour %v minute %v", i, ptrVal(iv.Weekday), ptrVal(iv.Hour), ptrVal(iv.Minute))
		}
	}
	// expanded intervals must not share field storage
	*got[0].Hour = 10
	if ptrVal(got[1].Hour) != 9 {
		t.Fatal("expanded intervals share hour pointer")
	}
}
