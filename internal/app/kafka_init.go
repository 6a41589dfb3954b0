package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	healthcheck "github.com/vladislavdragonenkov/menusync/internal/health"
	"github.com/vladislavdragonenkov/menusync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
)

var errKafkaProducerUnavailable = errors.New("kafka producer is not initialized")

// initKafkaProducer создаёт producer, если brokers не пустой.
// Возвращает nil, nil при пустом списке brokers.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// kafkaChecker — некритичная проверка: без Kafka админские операции продолжают работать.
func kafkaChecker(producer *kafka.Producer) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("kafka", func(context.Context) error {
		if producer == nil {
			return errKafkaProducerUnavailable
		}
		return nil
	})
}

// startTriggerConsumer подписывается на топик изменений меню.
// Возвращает nil, если Kafka не настроен или consumer создать не удалось.
func startTriggerConsumer(
	ctx context.Context,
	cfg config.KafkaConfig,
	dispatcher kafka.TriggerDispatcher,
	producer *kafka.Producer,
	syncMetrics *metrics.SyncMetrics,
	logger *log.Entry,
) *kafka.Consumer {
	if !cfg.Enabled() || !cfg.ConsumerEnabled {
		return nil
	}

	handler := kafka.NewTriggerHandler(dispatcher, syncMetrics, logger.WithField("layer", "kafka-trigger"))
	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, []string{cfg.TriggerTopic}, handler, kafka.ConsumerOptions{
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		DLQProducer: producer,
		DLQTopic:    cfg.DLQTopic,
		Logger:      logger.WithField("layer", "kafka-consumer"),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, triggers are accepted via admin api only")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		_ = consumer.Stop()
		return nil
	}
	return consumer
}

// closeKafka закрывает producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer, если он не nil.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
