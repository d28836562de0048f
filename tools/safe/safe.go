package safe

import (
	"runtime/debug"

	"supportchat/logger"
)

// Go starts a goroutine that recovers from panics so a bad event handler
// cannot take the whole client down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v\n%s", r, debug.Stack())
			}
		}()
		f()
	}()
}
