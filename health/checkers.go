package health

import (
	"context"
	"time"

	"github.com/shoplane/brokerkit/rabbitmq"
)

// BrokerChecker reports whether the broker connection is established.
type BrokerChecker struct {
	manager *rabbitmq.ConnectionManager
}

// NewBrokerChecker creates a checker over the connection manager.
func NewBrokerChecker(manager *rabbitmq.ConnectionManager) *BrokerChecker {
	return &BrokerChecker{manager: manager}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	connected := c.manager.IsConnected()
	result.Details["connected"] = connected
	result.Duration = time.Since(start)

	if !connected {
		result.Status = StatusUnhealthy
		result.Message = "not connected to broker"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "connected"
	return result
}

// ChannelPoolChecker reports publisher channel pool occupancy. A pool with no
// free channels still serves publishes by growing, so saturation only degrades
// the status.
type ChannelPoolChecker struct {
	manager *rabbitmq.ConnectionManager
}

// NewChannelPoolChecker creates a checker over the manager's channel pool.
func NewChannelPoolChecker(manager *rabbitmq.ConnectionManager) *ChannelPoolChecker {
	return &ChannelPoolChecker{manager: manager}
}

func (c *ChannelPoolChecker) Name() string {
	return "channel_pool"
}

func (c *ChannelPoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	stats := c.manager.Stats()
	pool := stats.PublisherChannels
	result.Details["total"] = pool.Total
	result.Details["in_use"] = pool.InUse
	result.Details["available"] = pool.Available
	result.Details["consumer_channels"] = stats.ConsumerChannels.Total
	result.Duration = time.Since(start)

	if pool.Total == 0 {
		result.Status = StatusUnhealthy
		result.Message = "channel pool not initialized"
		return result
	}

	if pool.Available == 0 {
		result.Status = StatusDegraded
		result.Message = "all publisher channels in use"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "channel pool has capacity"
	return result
}
