package progress

import (
	"time"

	"go.uber.org/atomic"
)

// Counter tracks bytes written through it. It is safe to read from another
// goroutine while a transfer writes to it.
type Counter struct {
	contentLen        atomic.Int64
	currentDownloaded atomic.Int64

	startTime time.Time
}

func NewCounter(contentLen int64) *Counter {
	c := &Counter{startTime: time.Now()}
	c.contentLen.Store(contentLen)
	return c
}

func (c *Counter) Write(p []byte) (n int, err error) {
	c.currentDownloaded.Add(int64(len(p)))
	return len(p), nil
}

// SetContentLen updates the total once the transfer learns it.
func (c *Counter) SetContentLen(n int64) {
	c.contentLen.Store(n)
}

// Percentage is 0 while the total is unknown.
func (c *Counter) Percentage() float64 {
	total := c.contentLen.Load()
	if total <= 0 {
		return 0
	}
	return (float64(c.currentDownloaded.Load()) / float64(total)) * 100.0
}

func (c *Counter) ContentLen() int64 {
	return c.contentLen.Load()
}

func (c *Counter) CurrentDownloaded() int64 {
	return c.currentDownloaded.Load()
}
