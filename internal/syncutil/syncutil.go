package syncutil

import (
	"log"
	"runtime/debug"
)

// Go runs fn on a new goroutine, logging any panic with its stack before
// re-raising it. The terminal UI owns stdout/stderr while it runs, so a bare
// panic would vanish; the log file keeps the evidence.
func Go(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
