package assert

import "runtime"

// NotNil panics when a singleton accessor is about to hand out nil.
func NotNil(v interface{}) {
	if v == nil {
		panic("assert: unexpected nil singleton")
	}
}

// NotCircular panics when singleton constructors recurse into each other
// during initialization.
func NotCircular() {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seen := make(map[string]int, n)
	for {
		frame, more := frames.Next()
		seen[frame.Function]++
		if seen[frame.Function] > 2 {
			panic("assert: circular singleton initialization via " + frame.Function)
		}
		if !more {
			return
		}
	}
}
