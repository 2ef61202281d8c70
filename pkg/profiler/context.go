package profiler

import "context"

type recorderKey struct{}

// WithRecorder returns a context carrying r, for call chains that do not pass
// the Recorder explicitly.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFrom returns the Recorder carried by ctx, or nil. A nil Recorder is
// safe to use and records nothing.
func RecorderFrom(ctx context.Context) *Recorder {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// StartScope pushes label on the Recorder carried by ctx.
func StartScope(ctx context.Context, label string) Scope {
	return RecorderFrom(ctx).Scope(label)
}
