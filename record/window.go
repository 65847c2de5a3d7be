package record

import "time"

// Window is a half-open UTC interval [Start, End). Aggregation and
// reconciliation always operate on whole windows; a timestamp equal to End
// belongs to the next window, never to both.
type Window struct {
	Start time.Time
	End   time.Time
}

// Day returns the UTC day window containing t.
func Day(t time.Time) Window {
	start := t.UTC().Truncate(24 * time.Hour)
	return Window{Start: start, End: start.Add(24 * time.Hour)}
}

// Hour returns the UTC hour window containing t.
func Hour(t time.Time) Window {
	start := t.UTC().Truncate(time.Hour)
	return Window{Start: start, End: start.Add(time.Hour)}
}

// Span builds a window from explicit bounds, normalized to UTC.
func Span(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Contains reports half-open membership: Start <= t < End.
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Key returns a stable textual key for maps and storage.
func (w Window) Key() string {
	return w.Start.UTC().Format(time.RFC3339) + "_" + w.End.UTC().Format(time.RFC3339)
}

func (w Window) String() string {
	return "[" + w.Start.UTC().Format(time.RFC3339) + ", " + w.End.UTC().Format(time.RFC3339) + ")"
}
