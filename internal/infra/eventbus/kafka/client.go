package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// ClientConfig contains all configuration needed for Kafka client setup
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// NewClient creates and configures a Kafka client with the provided settings.
// It sets up consistent configuration for both producers and consumers.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Group.Member.UserData = []byte(cfg.ClientID)

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Version should be consistent across all components
	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}
