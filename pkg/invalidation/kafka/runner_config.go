package kafka

import (
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
)

type Driver string

const (
	DriverNone   Driver = "none"
	DriverDirect Driver = "direct"
	DriverKafka  Driver = "kafka"
)

type InvalidationConfig struct {
	Enabled bool
	Driver  Driver

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func FromConfig(c config.InvalidationCfg) InvalidationConfig {
	driver := Driver(c.Driver)
	if driver == "" {
		driver = DriverNone
	}
	return InvalidationConfig{
		Enabled:          c.Enabled,
		Driver:           driver,
		Brokers:          c.BrokerList(),
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    false,
	}
}

func (c InvalidationConfig) kafkaEnabled() bool {
	return c.Enabled && c.Driver == DriverKafka
}
