package api

import (
	"hastebin/metrics"
	"hastebin/svc/util"
	"sync"
	"time"
)

const (
	errRateWindow     = 5
	errRateMinReqs    = 10
	errRateWarnPct    = 5.0
	errRateBucketSize = 1 * time.Minute
)

// ErrorRate keeps a rolling window of request and 5xx counts per minute and publishes
// the percentage on the recent error rate gauge.
type ErrorRate struct {
	mu           sync.Mutex
	window       []bucket
	currentIndex int
	done         chan struct{}
	stopOnce     sync.Once
}
type bucket struct {
	requests int64
	errors   int64
}

func NewErrorRate() *ErrorRate {
	return &ErrorRate{
		window: make([]bucket, errRateWindow),
		done:   make(chan struct{}),
	}
}
func (d *ErrorRate) Start() {
	ticker := time.NewTicker(errRateBucketSize)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Advance()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *ErrorRate) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *ErrorRate) RecordRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].requests++
}
func (d *ErrorRate) RecordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].errors++
}

// Advance publishes the rate over the window and starts a new bucket.
func (d *ErrorRate) Advance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var totalReqs, totalErrs int64
	for _, b := range d.window {
		totalReqs += b.requests
		totalErrs += b.errors
	}
	var errorRate float64
	if totalReqs > 0 {
		errorRate = (float64(totalErrs) / float64(totalReqs)) * 100.0
	}
	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > errRateMinReqs && errorRate > errRateWarnPct {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("high server error rate")
	}
	d.currentIndex = (d.currentIndex + 1) % len(d.window)
	d.window[d.currentIndex] = bucket{}
	return errorRate
}
