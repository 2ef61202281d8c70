package profiler

// Scope closes the scope opened by Recorder.Scope. Use it with defer so the
// pop happens on every return path:
//
//	defer rec.Scope("physics").End()
type Scope struct {
	r      *Recorder
	pushed bool
}

// Scope pushes label and returns the guard that pops it. If the push was
// dropped (paused, or compiled out) End does nothing, so resuming in between
// cannot unbalance the tree.
func (r *Recorder) Scope(label string) Scope {
	return Scope{r: r, pushed: r.push(label)}
}

// End pops the scope.
func (s Scope) End() {
	if s.pushed {
		_ = s.r.Pop()
	}
}

// Time runs fn inside a scope named label.
func (r *Recorder) Time(label string, fn func()) {
	defer r.Scope(label).End()
	fn()
}
