package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wafkaw/book-digger/internal/config"
	"github.com/wafkaw/book-digger/internal/queue"
	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/leaselock"
	"github.com/wafkaw/book-digger/pkg/logger"
	"github.com/wafkaw/book-digger/pkg/logger/console"
	"github.com/wafkaw/book-digger/pkg/render"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	stack, err := cfg.Open(ctx)
	if err != nil {
		logger.Fatal("Could not open pipeline", "err", err)
	}
	defer stack.Close()

	// vaults go to the bucket when one is configured
	var sink queue.SinkFunc = func(req queue.RunRequest) render.Sink {
		return render.DirSink{Dir: filepath.Join(cfg.OutputDir, outputPrefix(req))}
	}
	if cfg.AWS.Bucket != "" {
		s3Client, err := cfg.NewS3(ctx)
		if err != nil {
			logger.Fatal("Could not create S3 client", "err", err)
		}
		sink = func(req queue.RunRequest) render.Sink {
			return render.S3Sink{Client: s3Client, Bucket: cfg.AWS.Bucket, Prefix: outputPrefix(req), Replace: req.Replace}
		}
	}

	// book leases need the database; a single worker runs without them
	var locker queue.Locker
	if cfg.Cache.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Cache.DatabaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()
		hostname, _ := os.Hostname()
		leases := leaselock.New(pool, leaselock.Options{Wait: true, WaitJitter: time.Second, TokenPrefix: hostname + ":"})
		if err := leases.EnsureSchema(ctx); err != nil {
			logger.Fatal("Unable to create lease table", "err", err)
		}
		locker = leases
	}

	// Init rabbitmq
	conn, err := queue.Init(cfg.Queue.URL)
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
		logger.Fatal("Failed to set up queues", "err", err)
	}

	processor := queue.NewProcessor(queue.NewProcessorParams{
		Analyzer:     stack.Runner,
		Publisher:    ch,
		Sink:         sink,
		Locker:       locker,
		ParallelRuns: int64(cfg.Queue.ParallelRuns),
	})

	// Runs get their own channel with one delivery per run slot, so a cancel
	// message is never stuck behind the run it cancels.
	runCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer runCh.Close()
	if err := runCh.Qos(cfg.Queue.ParallelRuns, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	cancelCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer cancelCh.Close()

	runs := consume(runCh, queue.RunQueue)
	cancels := consume(cancelCh, queue.CancelQueue)

	logger.Info("Listening for messages", "parallel_runs", cfg.Queue.ParallelRuns, "adapter", cfg.AI.Adapter)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping cancel consumer")
				return
			case msg, ok := <-cancels:
				if !ok {
					return
				}
				if err := processor.ProcessCancelMessage(ctx, msg.Body); err != nil {
					logger.Warn("Invalid cancel message", "err", err)
				}
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
			}
		}
	}()

	dispatch(ctx, runs, func(msg amqp.Delivery) {
		handleRun(ctx, processor, ch, msg)
	})

	if stack.AI != nil {
		m := stack.AI.GetMetrics()
		logger.Info("AI usage since start", "requests", m.Requests, "input_tokens", m.InputTokens, "output_tokens", m.OutputTokens)
	}
	logger.Info("Shutdown complete")
}

// dispatch hands every delivery to handle on its own goroutine until ctx ends
// or deliveries closes, then waits for the handlers still running so their
// acks reach the channel before it closes.
func dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, handle func(amqp.Delivery)) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, waiting for running messages")
			return
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.RunQueue)
				return
			}
			inflight.Go(func() { handle(msg) })
		}
	}
}

func outputPrefix(req queue.RunRequest) string {
	if req.Prefix != "" {
		return req.Prefix
	}
	return req.BookID
}

func consume(ch *amqp.Channel, queueName string) <-chan amqp.Delivery {
	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
	}
	return msgs
}

func handleRun(ctx context.Context, processor *queue.Processor, ch *amqp.Channel, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.RunQueue)

	err := processor.ProcessRunMessage(ctx, msg.Body)
	switch {
	case err != nil && ctx.Err() != nil:
		// shutting down, let the broker redeliver
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("Failed to nack message", "err", nackErr)
		}
		return
	case err != nil:
		logger.Error("Error processing message", "queue", queue.RunQueue, "err", err)
		queue.HandleFailure(ctx, ch, msg, queue.RunQueue, err)
	default:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("Failed to ack message", "err", ackErr)
		}
		logger.Info("Message processed successfully", "queue", queue.RunQueue)
	}

	logger.Info("Processing time", "duration", clock(time.Since(startTime)))
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
