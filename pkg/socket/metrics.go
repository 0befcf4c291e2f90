package socket

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	SetConnectionCount(count int)

	// 房间指标
	SetRoomCount(count int)

	// 帧与事件指标
	IncrementFramesReceived(event string)
	IncrementInvalidFrames()
	IncrementHandlerFailures(event string)

	// 投递指标
	RecordBroadcastLatency(d time.Duration)
	IncrementDroppedDeliveries()
	IncrementWriteErrors()

	// 跨进程指标
	IncrementPublishFailures(kind string)
	IncrementRemoteMessages(kind string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                  {}
func (NoopMetrics) DecrementConnections()                  {}
func (NoopMetrics) SetConnectionCount(count int)           {}
func (NoopMetrics) SetRoomCount(count int)                 {}
func (NoopMetrics) IncrementFramesReceived(event string)   {}
func (NoopMetrics) IncrementInvalidFrames()                {}
func (NoopMetrics) IncrementHandlerFailures(event string)  {}
func (NoopMetrics) RecordBroadcastLatency(d time.Duration) {}
func (NoopMetrics) IncrementDroppedDeliveries()            {}
func (NoopMetrics) IncrementWriteErrors()                  {}
func (NoopMetrics) IncrementPublishFailures(kind string)   {}
func (NoopMetrics) IncrementRemoteMessages(kind string)    {}
