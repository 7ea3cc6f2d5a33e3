//go:build ruleguard

// Package gorules holds the custom ruleguard checks golangci-lint runs
// over this repository. The selection leans toward the failure modes of
// a worker-heavy codebase: goroutine lifecycle, timer channels and
// latency measurement.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupClosures flags goroutine closures that pair a manual Add with
// a deferred Done. Go 1.25's wg.Go does both and cannot be mismatched.
func WaitGroupClosures(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of Add/defer Done (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { $*body; $wg.Done() }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }); a non-deferred Done leaks on panic")
}

// TimerChannelLen flags len or cap checks on timer and ticker channels.
// Those channels are unbuffered since Go 1.23, so the check is always 0
// and the surrounding logic is dead.
func TimerChannelLen(m dsl.Matcher) {
	m.Match(`len($t.C)`, `cap($t.C)`).
		Where(m["t"].Type.Is("*time.Timer")).
		Report("timer channels are unbuffered in Go 1.23+, len/cap is always 0; use a non-blocking select")

	m.Match(`len($t.C)`, `cap($t.C)`).
		Where(m["t"].Type.Is("*time.Ticker")).
		Report("ticker channels are unbuffered in Go 1.23+, len/cap is always 0; use a non-blocking select")
}

// DeferredElapsed flags time.Since passed directly to a deferred call.
// The argument is evaluated when the defer statement runs, so the logged
// duration is always near zero instead of the function's runtime.
func DeferredElapsed(m dsl.Matcher) {
	m.Match(
		`defer $fn(time.Since($start))`,
		`defer $fn($*_, time.Since($start))`,
		`defer $fn(time.Since($start), $*_)`,
	).
		Report("time.Since($start) is evaluated at defer time; wrap the call in func() { ... } to measure the full duration")
}

// BenchmarkLoop flags the pre-1.24 benchmark iteration forms. b.Loop
// keeps setup out of the measurement and defeats dead-code elimination
// of the body.
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $b.N; $i++ { $*body }`, `for $i := range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of iterating $b.N (Go 1.24+)")

	m.Match(`for range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of for range $b.N (Go 1.24+)").
		Suggest("for $b.Loop() { $body }")
}

// ManualClone flags make-then-copy slice duplication, which slices.Clone
// expresses in one call without the length mismatch trap.
func ManualClone(m dsl.Matcher) {
	m.Match(
		`$dst := make([]$t, len($src)); copy($dst, $src)`,
	).
		Report("use $dst := slices.Clone($src) (Go 1.21+)").
		Suggest("$dst := slices.Clone($src)")

	m.Match(`$dst := append([]$t(nil), $src...)`).
		Report("use $dst := slices.Clone($src) (Go 1.21+)").
		Suggest("$dst := slices.Clone($src)")
}

// SortConversions flags the fixed-type sort helpers that predate the
// generic slices package.
func SortConversions(m dsl.Matcher) {
	m.Match(`sort.Ints($s)`, `sort.Strings($s)`, `sort.Float64s($s)`).
		Report("use slices.Sort($s) (Go 1.21+)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, func($i, $j int) bool { return $s[$i] < $s[$j] })`).
		Report("use slices.Sort($s) (Go 1.21+)").
		Suggest("slices.Sort($s)")
}
