package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// MetricsState keeps a rolling view of queue submission cost plus raw
// counters for submissions and garbage-collected native objects.
type MetricsState struct {
	mutex            sync.Mutex
	submitAVGCounter uint8
	submitTimes      [AVG_COUNT]float64
	submitMSAvg      float64
	submissions      uint64
	collected        uint64
}

var onceMetrics sync.Once
var metricsState *MetricsState

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{}
	})
	return nil
}

// MetricsSubmission records the host-side cost of one queue submission.
func MetricsSubmission(elapsed time.Duration) {
	if metricsState == nil {
		return
	}
	metricsState.mutex.Lock()
	defer metricsState.mutex.Unlock()

	ms := float64(elapsed) / float64(time.Millisecond)
	metricsState.submitTimes[metricsState.submitAVGCounter] = ms
	if metricsState.submitAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += metricsState.submitTimes[i]
		}
		metricsState.submitMSAvg = sum / float64(AVG_COUNT)
	}
	metricsState.submitAVGCounter++
	metricsState.submitAVGCounter %= AVG_COUNT

	metricsState.submissions++
}

// MetricsCollected adds to the count of native objects released by the
// deferred-destruction collector.
func MetricsCollected(n uint32) {
	if metricsState == nil {
		return
	}
	metricsState.mutex.Lock()
	defer metricsState.mutex.Unlock()
	metricsState.collected += uint64(n)
}

// MetricsSubmitTime reports the rolling average submission cost in ms.
func MetricsSubmitTime() float64 {
	if metricsState == nil {
		return 0
	}
	metricsState.mutex.Lock()
	defer metricsState.mutex.Unlock()
	return metricsState.submitMSAvg
}

func MetricsSubmissions() uint64 {
	if metricsState == nil {
		return 0
	}
	metricsState.mutex.Lock()
	defer metricsState.mutex.Unlock()
	return metricsState.submissions
}

func MetricsCollectedTotal() uint64 {
	if metricsState == nil {
		return 0
	}
	metricsState.mutex.Lock()
	defer metricsState.mutex.Unlock()
	return metricsState.collected
}
