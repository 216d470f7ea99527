package panicerr

import (
	"github.com/sourcegraph/conc/panics"
)

// Safe converts a panic inside fn into a returned error carrying the
// recovered value and stack. Runner and batch goroutines wrap their work
// in it so a panicking step settles its task instead of taking the
// process down.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}
