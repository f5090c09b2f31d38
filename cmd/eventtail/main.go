// eventtail 订阅 upscale 事件 topic，每条事件输出一行 JSON，供运维排查使用。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"upscale-go/internal/config"
	"upscale-go/internal/imgtypes"
	appKafka "upscale-go/internal/kafka"
	"upscale-go/internal/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	failedOnly := flag.Bool("failed-only", false, "only print failed upscale events")
	group := flag.String("group", "", "consumer group (default: KAFKA.CONSUMER_GROUP)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	// 日志写到 stderr，stdout 只输出事件
	logger.InitWithWriter(os.Stderr, cfg.AppName+"-eventtail", cfg.LogLevel)
	ctx := context.Background()

	groupID := cfg.Kafka.ConsumerGroup
	if *group != "" {
		groupID = *group
	}

	consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		logger.Error(ctx, "无法创建 Kafka 消费者", err)
		os.Exit(1)
	}

	printer := &eventPrinter{enc: json.NewEncoder(os.Stdout), failedOnly: *failedOnly}

	consumeCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		topics := []string{cfg.Kafka.UpscaleEventsTopic}
		if err := consumer.Consume(consumeCtx, topics, groupID, printer.handle); err != nil {
			logger.Error(ctx, "Kafka 消费者异常退出", err)
			consumer.Close()
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, 10*time.Second, map[string]gfshutdown.Operation{
		"eventtail": func(ctx context.Context) error {
			cancel()
			wg.Wait()
			consumer.Close()
			return nil
		},
	})
	os.Exit(<-wait)
}

// eventPrinter 解码事件并以 JSON Lines 输出。
type eventPrinter struct {
	mu         sync.Mutex
	enc        *json.Encoder
	failedOnly bool
}

func (p *eventPrinter) handle(ctx context.Context, msg *kafka.Message) error {
	var event imgtypes.UpscaleEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 无法解析的消息跳过，但仍然提交 offset
		logger.Warn(ctx, "skipping malformed upscale event", logger.Fields{
			"offset": msg.TopicPartition.Offset.String(),
			"error":  err.Error(),
		})
		return nil
	}
	if p.failedOnly && event.Status != imgtypes.EventStatusFailed {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(event)
}
