//go:build !noprofile

package profiler

// Enabled reports whether instrumentation is compiled in. Build with
// -tags noprofile to turn every Recorder call into a no-op.
const Enabled = true
