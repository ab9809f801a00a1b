package consumer

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/config"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/resolver"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/store"
	"github.com/wesense-earth/wesense-respiro-sub002/internal/transformer"
	mqttcommon "github.com/wesense-earth/wesense-respiro-sub002/pkg/mqtt"
)

// rawMessage 待处理的原始 MQTT 消息
type rawMessage struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// MQTTConsumer MQTT 消息消费者
// 接入热路径：消息 -> 标准化 -> Sensor Store 同步写入；
// 区域解析只投递任务，几何计算不阻塞热路径。
// 按设备键哈希分片到固定工作协程，保证同一设备的消息按接收顺序落库，
// 不同设备之间不保证也不需要顺序。
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqttcommon.Client
	transformer *transformer.Transformer
	store       *store.SensorStore
	resolver    *resolver.Resolver // 可为 nil（边界数据缺失时的降级运行）
	logger      *zap.Logger

	// mu 保护 closed 与分片通道的生命周期：
	// 关闭分片必须和 broker 回调的投递互斥，否则停机窗口内
	// 到达的消息会打到已关闭的通道上
	mu        sync.RWMutex
	closed    bool
	shards    []chan rawMessage
	unsubOnce sync.Once
	wg        sync.WaitGroup

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	tf *transformer.Transformer,
	sensorStore *store.SensorStore,
	regionResolver *resolver.Resolver,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		transformer: tf,
		store:       sensorStore,
		resolver:    regionResolver,
		logger:      logger,
	}
}

// Start 启动消费者（阻塞到 ctx 取消）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	workers := c.config.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := c.config.Ingest.QueueSize
	if queueSize < workers {
		queueSize = workers
	}

	c.shards = make([]chan rawMessage, workers)
	for i := range c.shards {
		c.shards[i] = make(chan rawMessage, queueSize/workers)
		c.wg.Add(1)
		go c.worker(c.shards[i])
	}

	// 订阅两种消息格式的主题
	topics := []string{
		c.config.Ingest.LegacyTopic,
		c.config.Ingest.StructuredTopic,
	}
	for _, topic := range topics {
		if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.Strings("topics", topics),
		zap.Int("workers", workers),
		zap.Bool("region_enrichment", c.resolver != nil),
	)

	<-ctx.Done()

	// 先退订再关分片：退订后 broker 不再投递，
	// 残余的在途回调由 closed 标志挡住
	c.unsubscribe()
	c.mu.Lock()
	c.closed = true
	for _, shard := range c.shards {
		close(shard)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	c.unsubscribe()

	c.logger.Info("MQTT consumer stopped",
		zap.Uint64("processed", c.processed.Load()),
		zap.Uint64("dropped", c.dropped.Load()),
	)
	return nil
}

// Processed 已处理消息数
func (c *MQTTConsumer) Processed() uint64 {
	return c.processed.Load()
}

// Dropped 已丢弃消息数（畸形消息 + 队列满）
func (c *MQTTConsumer) Dropped() uint64 {
	return c.dropped.Load()
}

// handleMessage 在 paho 回调线程里只做分片投递，不解析 JSON
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// 停机窗口内（退订已发出但 broker 仍可能在投递）到达的消息直接丢弃
	if c.closed {
		c.dropped.Add(1)
		return nil
	}

	key := transformer.DeviceKeyFromTopic(topic)
	shard := c.shards[shardIndex(key, len(c.shards))]

	msg := rawMessage{topic: topic, payload: payload, receivedAt: time.Now()}
	select {
	case shard <- msg:
	default:
		// 队列满：丢弃并记录，绝不阻塞 broker 回调
		c.dropped.Add(1)
		c.logger.Warn("Ingest queue full, dropping message", zap.String("topic", topic))
	}
	return nil
}

// unsubscribe 幂等退订（Start 的停机路径和 Stop 都会调用）
func (c *MQTTConsumer) unsubscribe() {
	c.unsubOnce.Do(func() {
		topics := []string{
			c.config.Ingest.LegacyTopic,
			c.config.Ingest.StructuredTopic,
		}
		if err := c.mqttClient.Unsubscribe(topics...); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	})
}

// worker 单个分片的处理循环
func (c *MQTTConsumer) worker(shard <-chan rawMessage) {
	defer c.wg.Done()

	for msg := range shard {
		c.processMessage(msg)
	}
}

// processMessage 标准化单条消息并写入存储
// 任何失败只丢弃本条消息并记录，接入永不因单条坏消息停止
func (c *MQTTConsumer) processMessage(msg rawMessage) {
	reading, err := c.transformer.Normalize(msg.topic, msg.payload, msg.receivedAt)
	if err != nil {
		c.dropped.Add(1)
		c.logger.Warn("Dropping unparseable message",
			zap.String("topic", msg.topic),
			zap.Error(err),
		)
		return
	}

	c.store.Upsert(reading)
	c.processed.Add(1)

	// 坐标变化的区域解析是异步的：读数先可见，区域信息后台补齐
	if reading.HasLocation() && c.resolver != nil {
		c.resolver.ObserveLocation(reading.DeviceID, *reading.Latitude, *reading.Longitude)
	}
}

func shardIndex(key string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}
