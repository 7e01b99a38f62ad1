package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/reqgraph/backend/internal/bootstrap"
	"github.com/reqgraph/backend/internal/queue"
	"github.com/reqgraph/backend/internal/storage"
	"github.com/reqgraph/backend/internal/util"
	"github.com/reqgraph/backend/pkg/logger"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.NewStack(ctx)
	if err != nil {
		logger.Fatal("Failed to initialise sync stack", "err", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stack.Close(closeCtx)
	}()

	// Batch reports are only archived when a bucket is configured
	var archive queue.ReportArchiver
	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
		})
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		archive = storage.NewReportArchive(client, bucket, util.GetEnvString("AWS_REPORT_PREFIX", "sync-reports"))
	}

	// Init rabbitmq
	conn, err := queue.Dial(queue.Config{
		User:     util.GetEnv("RABBITMQ_USER"),
		Password: util.GetEnv("RABBITMQ_PASSWORD"),
		Host:     util.GetEnv("RABBITMQ_HOST"),
		Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
	})
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One consumer channel with prefetch=1 so a single message is in
	// flight across all queues. Batch syncs already fan out internally.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages", "graph_available", stack.Manager.Available())

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName, "correlation_id", qm.msg.CorrelationId)

				var processingErr error
				switch qm.queueName {
				case queue.SyncQueue:
					processingErr = queue.ProcessSyncMessage(ctx, stack.Manager, qm.msg.Body)
				case queue.BatchSyncQueue:
					processingErr = queue.ProcessBatchSyncMessage(ctx, stack.Manager, archive, qm.msg.Body)
				}

				// Failures go to the retry queue, or the DLQ once retries run out
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(context.WithoutCancel(ctx), consumerCh, qm.msg, qm.queueName, processingErr)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Millisecond).String())
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
