package progress

import (
	"errors"
	"time"
)

var (
	ErrUnknownTotal = errors.New("can't compute estimated time if total content len is unknown")
	ErrNoData       = errors.New("can't compute estimated time when there is not downloaded data")
)

func (c *Counter) EstimatedTime() (time.Duration, error) {
	total := c.contentLen.Load()
	if total <= 0 {
		return 0, ErrUnknownTotal
	}
	downloaded := c.currentDownloaded.Load()
	if downloaded == 0 {
		return 0, ErrNoData
	}
	currentT := time.Since(c.startTime)
	currentV := float64(downloaded) / float64(currentT)
	remaining := total - downloaded
	if remaining <= 0 {
		return 0, nil
	}
	return time.Duration(float64(remaining) / currentV), nil
}
