// Package testutils contains helpers shared by proctrace tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package's tests and then fails if any goroutine outlived them. Extra
// options are added to the package-wide ignores.
func VerifyTestMain(m goleak.TestingM, opts ...goleak.Option) {
	opts = append(opts,
		// lumberjack starts its rotation goroutine on first write and never stops it.
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
	goleak.VerifyTestMain(m, opts...)
}
