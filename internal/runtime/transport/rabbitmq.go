package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/flockline/fabric/internal/runtime/config"
	"github.com/flockline/fabric/internal/runtime/envelope"
)

// Overridable factories so tests can stub out the broker connection.
var (
	AmqpConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	AmqpPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	AmqpSubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

func init() {
	DefaultRegistry.Register("rabbitmq", rabbitTransport)
}

func rabbitTransport(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	amqpConfig := NewEventFabricAmqpConfig(cfg)

	conn, err := AmqpConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   cfg.GetRabbitMQURL(),
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("broker unavailable: %w", err)
	}

	publisher, err := AmqpPublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := AmqpSubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// NewEventFabricAmqpConfig builds the broker topology: one durable topic
// exchange per deployment, every event type published to it with the event
// type as routing key, and each subscribing service holding one durable
// queue per event category, bound by event type. Messages are persistent
// and publishes wait for the broker confirm.
func NewEventFabricAmqpConfig(cfg Config) amqp.Config {
	exchange := cfg.GetExchangeName()
	if exchange == "" {
		exchange = configpkg.DefaultExchangeName
	}
	service := cfg.GetServiceName()

	amqpConfig := amqp.NewDurablePubSubConfig(
		cfg.GetRabbitMQURL(),
		func(topic string) string {
			return fmt.Sprintf("%s.%s", service, envelope.Category(topic))
		},
	)

	amqpConfig.Exchange.GenerateName = func(string) string { return exchange }
	amqpConfig.Exchange.Type = "topic"
	amqpConfig.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	amqpConfig.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	amqpConfig.Publish.ConfirmDelivery = true

	if prefetch := cfg.GetPrefetchCount(); prefetch > 0 {
		amqpConfig.Consume.Qos.PrefetchCount = prefetch
	}

	return amqpConfig
}
