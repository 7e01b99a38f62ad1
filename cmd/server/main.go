package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v3"

	"github.com/reqgraph/backend/internal/bootstrap"
	"github.com/reqgraph/backend/internal/queue"
	"github.com/reqgraph/backend/internal/server"
	mid "github.com/reqgraph/backend/internal/server/middleware"
	"github.com/reqgraph/backend/internal/util"
	"github.com/reqgraph/backend/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("server")

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

	app := &mid.App{
		Sync:  stack.Manager,
		Graph: stack.Graph,
		Health: func(ctx context.Context) any {
			return stack.Graph.Health(ctx)
		},
		Publish: func(ctx context.Context, queueName, correlationID string, body []byte) error {
			return queue.Publish(ctx, ch, queueName, correlationID, body)
		},
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnvString("MASTER_USER_ID", "master"),
		MasterUserRole: util.GetEnvString("MASTER_USER_ROLE", "admin"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.KeyFunc = k.Keyfunc
	} else {
		logger.Warn("AUTH_URL not set, only the master API key is accepted")
	}

	e := server.New(app)
	if err := server.Run(ctx, e, util.GetEnvString("PORT", "8080")); err != nil {
		logger.Error("Server stopped with error", "err", err)
	}
}
