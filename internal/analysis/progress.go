package analysis

import (
	"sync"
	"time"
)

// progressDriver calls tick on a fixed interval until stopped.
type progressDriver struct {
	interval time.Duration
	tick     func()
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func startProgress(interval time.Duration, tick func()) *progressDriver {
	d := &progressDriver{
		interval: interval,
		tick:     tick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *progressDriver) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			// stop wins over a tick that raced with it
			select {
			case <-d.stop:
				return
			default:
			}
			d.tick()
		}
	}
}

// Stop halts the driver and waits for its goroutine to exit. No tick runs
// after Stop returns. Safe to call more than once. Must not be called while
// holding a lock that tick acquires.
func (d *progressDriver) Stop() {
	if d == nil {
		return
	}
	d.once.Do(func() { close(d.stop) })
	<-d.done
}
