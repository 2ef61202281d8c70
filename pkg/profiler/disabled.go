//go:build noprofile

package profiler

// Enabled reports whether instrumentation is compiled in.
const Enabled = false
