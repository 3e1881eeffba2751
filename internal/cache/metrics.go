package cache

import "time"

// Request sources reported to the metrics recorder.
const (
	SourceMemory  = "memory"
	SourceDurable = "durable"
	SourceNone    = "none"
)

// MetricsRecorder receives cache events. internal/metrics.Collector implements it.
type MetricsRecorder interface {
	RecordRequest(result, source string)
	RecordEviction(count int)
	RecordExpiration(count int)
	RecordStoreOperation(operation, collection string, duration time.Duration, err error)
	RecordCodecFailure(operation string)
	SetMemoryUsage(items int, bytes int64)
	SetCompressionRatio(ratio float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string)                              {}
func (nopRecorder) RecordEviction(int)                                        {}
func (nopRecorder) RecordExpiration(int)                                      {}
func (nopRecorder) RecordStoreOperation(string, string, time.Duration, error) {}
func (nopRecorder) RecordCodecFailure(string)                                 {}
func (nopRecorder) SetMemoryUsage(int, int64)                                 {}
func (nopRecorder) SetCompressionRatio(float64)                               {}
