package odataview

import (
	"sync"
	"time"
)

// debouncer 取消并重新计时：一串 Trigger 只执行最后一次
type debouncer struct {
	lock    sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{
		delay: delay,
		fn:    fn,
	}
}

func (d *debouncer) Trigger() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d.delay, func() {
		d.lock.Lock()
		if d.timer != timer || d.stopped {
			d.lock.Unlock()
			return
		}
		d.timer = nil
		d.lock.Unlock()
		d.fn()
	})
	d.timer = timer
}

// Pending reports whether a trigger is scheduled but has not fired yet.
func (d *debouncer) Pending() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.timer != nil
}

func (d *debouncer) Stop() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
