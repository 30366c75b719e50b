package utils

import (
	"sync"
	"time"
)

type IntervalTimer interface {
	Stop()
}

type timeInterval struct {
	quit chan struct{}
	once sync.Once
}

func (t *timeInterval) Stop() {
	t.once.Do(func() { close(t.quit) })
}

// SetIntervalTimer calls function every duration until Stop is called.
// Stop may be called more than once.
func SetIntervalTimer(duration time.Duration, function func()) IntervalTimer {
	ticker := time.NewTicker(duration)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				function()
			case <-quit:
				ticker.Stop()
				return
			}
		}
	}()
	return &timeInterval{quit: quit}
}
