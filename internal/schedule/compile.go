package schedule

// Interval is a single-valued calendar trigger as accepted by native
// schedulers. A nil field means "every value".
//
// Index is the weekday expansion index (0..k-1) or -1 when the expression
// produced a single interval.
type Interval struct {
	Minute  *int
	Hour    *int
	Day     *int
	Month   *int
	Weekday *int
	Index   int
}

// Compile reduces an expression to native intervals.
//
// Reduction per field:
//   - wildcard: omitted
//   - single n: n
//   - list: first element only (lossy)
//   - step n: n
//
// A weekday list of k values expands to k intervals, one weekday each. Lists
// in any other field never expand.
func Compile(e Expression) []Interval {
	base := Interval{
		Minute: reduce(e.Minute),
		Hour:   reduce(e.Hour),
		Day:    reduce(e.DayOfMonth),
		Month:  reduce(e.Month),
		Index:  -1,
	}

	if e.Weekday.Kind == List && len(e.Weekday.Values) > 0 {
		out := make([]Interval, 0, len(e.Weekday.Values))
		for i, wd := range e.Weekday.Values {
			iv := base.clone()
			iv.Weekday = intPtr(wd)
			iv.Index = i
			out = append(out, iv)
		}
		return out
	}

	base.Weekday = reduce(e.Weekday)
	return []Interval{base}
}

func (iv Interval) clone() Interval {
	return Interval{
		Minute:  copyPtr(iv.Minute),
		Hour:    copyPtr(iv.Hour),
		Day:     copyPtr(iv.Day),
		Month:   copyPtr(iv.Month),
		Weekday: copyPtr(iv.Weekday),
		Index:   iv.Index,
	}
}

func copyPtr(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func reduce(f Field) *int {
	if f.Kind == Wildcard || len(f.Values) == 0 {
		return nil
	}
	return intPtr(f.Values[0])
}

func intPtr(v int) *int { return &v }
