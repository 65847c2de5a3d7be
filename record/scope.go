package record

// Scope identifies what a finding or quarantine covers: the whole pipeline,
// one asset pair, or one (pair, window) cell. Zero value is the global scope.
type Scope struct {
	Pair   string
	Window Window
}

// GlobalScope covers the entire pipeline.
var GlobalScope = Scope{}

// PairScope covers one asset pair across all windows.
func PairScope(pair string) Scope {
	return Scope{Pair: pair}
}

// WindowScope covers one (pair, window) cell.
func WindowScope(pair string, w Window) Scope {
	return Scope{Pair: pair, Window: w}
}

// Global reports whether s is the global scope.
func (s Scope) Global() bool {
	return s.Pair == "" && s.Window.Start.IsZero()
}

// Key returns a stable map key for the scope.
func (s Scope) Key() string {
	if s.Global() {
		return "global"
	}
	if s.Window.Start.IsZero() {
		return s.Pair
	}
	return s.Pair + "|" + s.Window.Key()
}

// Covers reports whether s covers other: the global scope covers everything,
// a pair scope covers every window of that pair, a window scope with no pair
// covers every pair in that window, and a full (pair, window) scope covers
// only itself.
func (s Scope) Covers(other Scope) bool {
	if s.Global() {
		return true
	}
	if s.Pair != "" && s.Pair != other.Pair {
		return false
	}
	if s.Window.Start.IsZero() {
		return true
	}
	return s.Window == other.Window
}

func (s Scope) String() string {
	if s.Global() {
		return "global"
	}
	if s.Window.Start.IsZero() {
		return s.Pair
	}
	if s.Pair == "" {
		return s.Window.String()
	}
	return s.Pair + " " + s.Window.String()
}
