package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseError is returned by CronEvaluator.Parse when a cron field fails
// its grammar or range check.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cron field %q: %s", e.Field, e.Reason)
}

// cronFieldBounds gives the inclusive value range for each of the five
// standard cron fields, in order: minute, hour, day, month, weekday.
var cronFieldNames = [5]string{"minute", "hour", "day", "month", "weekday"}
var cronFieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day
	{1, 12}, // month
	{0, 6},  // weekday, 0 = Sunday
}

// fieldRange is one comma-separated element of a cron field: either a
// single value, a range a-b, or either of those with a /step.
type fieldRange struct {
	start, end, step int
}

func (r fieldRange) contains(v int) bool {
	if v < r.start || v > r.end {
		return false
	}
	return (v-r.start)%r.step == 0
}

// CronEvaluator parses and evaluates five-field cron expressions
// (minute hour day month weekday), matching day-of-month against
// day-of-week with AND semantics when both are explicitly constrained
// -- this differs from traditional POSIX cron's OR semantics, so
// evaluation is done directly rather than delegated to a general-purpose
// cron library.
type CronEvaluator struct {
	// SearchHorizon bounds how far into the future NextAfter will look
	// before concluding a schedule never fires. Defaults to ~4 years.
	SearchHorizon time.Duration
}

// NewCronEvaluator builds a CronEvaluator with a 4 year search horizon.
func NewCronEvaluator() *CronEvaluator {
	return &CronEvaluator{SearchHorizon: 4 * 365 * 24 * time.Hour}
}

// parsedSchedule is the validated, field-split form of a cron expression.
type parsedSchedule struct {
	fields [5][]fieldRange
	raw    [5]string
}

// Parse validates a five-field cron expression against the grammar
// `field := '*' | value | range | step | list` and each field's value
// range, returning a *ParseError naming the offending field on failure.
func (ce *CronEvaluator) Parse(expr string) (*parsedSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, &ParseError{Field: "expr", Reason: fmt.Sprintf("expected 5 fields, got %d", len(fields))}
	}

	var ps parsedSchedule
	for i, f := range fields {
		bounds := cronFieldBounds[i]
		ranges, err := parseFieldSpec(f, bounds[0], bounds[1])
		if err != nil {
			return nil, &ParseError{Field: cronFieldNames[i], Reason: err.Error()}
		}
		ps.fields[i] = ranges
		ps.raw[i] = f
	}
	return &ps, nil
}

// IsValid reports whether expr parses without error.
func (ce *CronEvaluator) IsValid(expr string) bool {
	_, err := ce.Parse(expr)
	return err == nil
}

// parseFieldSpec parses a single cron field (possibly a comma-separated
// list of values/ranges/steps) into a set of fieldRanges.
func parseFieldSpec(spec string, min, max int) ([]fieldRange, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty field")
	}

	var ranges []fieldRange
	for _, item := range strings.Split(spec, ",") {
		r, err := parseFieldItem(item, min, max)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseFieldItem(item string, min, max int) (fieldRange, error) {
	step := 1
	base := item
	hasStep := false

	if idx := strings.IndexByte(item, '/'); idx >= 0 {
		base = item[:idx]
		stepStr := item[idx+1:]
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return fieldRange{}, fmt.Errorf("invalid step %q", stepStr)
		}
		step = n
		hasStep = true
	}

	switch {
	case base == "*":
		return fieldRange{start: min, end: max, step: step}, nil

	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)
		a, errA := strconv.Atoi(parts[0])
		b, errB := strconv.Atoi(parts[1])
		if errA != nil || errB != nil {
			return fieldRange{}, fmt.Errorf("invalid range %q", base)
		}
		if a < min || b > max || a > b {
			return fieldRange{}, fmt.Errorf("range %q out of bounds [%d,%d]", base, min, max)
		}
		return fieldRange{start: a, end: b, step: step}, nil

	default:
		v, err := strconv.Atoi(base)
		if err != nil {
			return fieldRange{}, fmt.Errorf("invalid value %q", base)
		}
		if v < min || v > max {
			return fieldRange{}, fmt.Errorf("value %d out of bounds [%d,%d]", v, min, max)
		}
		end := v
		if hasStep {
			// "a/b" means "from a, every b" through the field's max.
			end = max
		}
		return fieldRange{start: v, end: end, step: step}, nil
	}
}

func fieldSetMatches(ranges []fieldRange, v int) bool {
	for _, r := range ranges {
		if r.contains(v) {
			return true
		}
	}
	return false
}

// matches reports whether t (already in the schedule's evaluation
// timezone) satisfies the parsed schedule, applying the day-of-month /
// day-of-week AND tie-break when both fields are explicitly constrained.
func (ps *parsedSchedule) matches(t time.Time) bool {
	minuteOK := fieldSetMatches(ps.fields[0], t.Minute())
	hourOK := fieldSetMatches(ps.fields[1], t.Hour())
	monthOK := fieldSetMatches(ps.fields[3], int(t.Month()))

	dayOK := fieldSetMatches(ps.fields[2], t.Day())
	weekdayOK := fieldSetMatches(ps.fields[4], int(t.Weekday()))

	domWild := ps.raw[2] == "*"
	dowWild := ps.raw[4] == "*"

	var domDowOK bool
	switch {
	case domWild && dowWild:
		domDowOK = true
	case domWild && !dowWild:
		domDowOK = weekdayOK
	case !domWild && dowWild:
		domDowOK = dayOK
	default:
		domDowOK = dayOK && weekdayOK
	}

	return minuteOK && hourOK && monthOK && domDowOK
}

// NextAfter returns the smallest instant strictly greater than ref at
// which expr fires, evaluated in tz. The second return is false if no
// firing is found within the search horizon (e.g. `day=31,month=2`),
// which callers treat as "not due".
func (ce *CronEvaluator) NextAfter(expr string, tz *time.Location, ref time.Time) (time.Time, bool) {
	ps, err := ce.Parse(expr)
	if err != nil {
		return time.Time{}, false
	}
	return ce.nextAfterParsed(ps, tz, ref)
}

func (ce *CronEvaluator) nextAfterParsed(ps *parsedSchedule, tz *time.Location, ref time.Time) (time.Time, bool) {
	horizon := ce.SearchHorizon
	if horizon <= 0 {
		horizon = 4 * 365 * 24 * time.Hour
	}

	local := ref.In(tz)
	// Seconds are always 0; minute is the smallest tick, so the search
	// starts at the next whole minute strictly after ref.
	cursor := local.Truncate(time.Minute)
	if !cursor.After(local) {
		cursor = cursor.Add(time.Minute)
	}
	deadline := local.Add(horizon)

	for !cursor.After(deadline) {
		if ps.matches(cursor) {
			return cursor.UTC(), true
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, false
}

// FiresWithin reports whether expr fires at least once in
// (ref, ref+window), evaluated in tz.
func (ce *CronEvaluator) FiresWithin(expr string, tz *time.Location, ref time.Time, window time.Duration) bool {
	next, ok := ce.NextAfter(expr, tz, ref)
	if !ok {
		return false
	}
	return next.Before(ref.Add(window))
}
