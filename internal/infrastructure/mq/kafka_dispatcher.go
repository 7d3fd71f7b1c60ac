package mq

import (
	"context"
	"errors"
	"time"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/errorx"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaDispatcher 分布式模式：按目标用户分区写入通知主题，消费端推给本节点的在线用户
type KafkaDispatcher struct {
	senderHolder

	writer *kafka.Writer
	reader *kafka.Reader

	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaDispatcher 初始化 Writer / Reader 并启动消费循环
func NewKafkaDispatcher(conf config.KafkaConfig) *KafkaDispatcher {
	d := &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(conf.HostPort),
			Topic:                  conf.NotifyTopic,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           conf.Timeout * time.Second,
			RequiredAcks:           kafka.RequireNone,
			AllowAutoTopicCreation: false,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        []string{conf.HostPort},
			Topic:          conf.NotifyTopic,
			CommitInterval: conf.Timeout * time.Second,
			GroupID:        conf.GroupID,
			StartOffset:    kafka.LastOffset,
		}),
		done: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.consume(ctx)
	return d
}

// CreateTopic 创建通知主题，已存在时忽略
func CreateTopic(conf config.KafkaConfig) error {
	conn, err := kafka.Dial("tcp", conf.HostPort)
	if err != nil {
		return errorx.Wrap(err, errorx.CodeServerBusy, "连接 Kafka 失败")
	}
	defer conn.Close()

	partitions := conf.Partition
	if partitions <= 0 {
		partitions = 1
	}
	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             conf.NotifyTopic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return errorx.Wrapf(err, errorx.CodeServerBusy, "创建主题 %s 失败", conf.NotifyTopic)
	}
	return nil
}

// Notify 以目标用户 ID 为 Key 写入，保证同一用户的通知有序
func (d *KafkaDispatcher) Notify(ctx context.Context, n model.Notification) error {
	msg, err := kafkaMessage(n)
	if err != nil {
		return err
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return errorx.Wrap(err, errorx.CodeServerBusy, "写入通知主题失败")
	}
	return nil
}

// kafkaMessage Key 为目标用户 ID，经 Hash 均衡器落到固定分区；Value 为 JSON 编码的通知
func kafkaMessage(n model.Notification) (kafka.Message, error) {
	if n.TargetID == "" {
		return kafka.Message{}, errorx.New(errorx.CodeInvalidParam, "通知缺少目标用户")
	}
	value, err := encode(n)
	if err != nil {
		return kafka.Message{}, errorx.Wrap(err, errorx.CodeInvalidParam, "通知编码失败")
	}
	return kafka.Message{Key: []byte(n.TargetID), Value: value}, nil
}

// handle 解码一条消息并推给本节点的在线用户，无法解码的消息跳过
func (d *KafkaDispatcher) handle(msg kafka.Message) {
	n, err := decode(msg.Value)
	if err != nil {
		zap.L().Error("decode notification failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		return
	}
	d.deliver(n)
}

func (d *KafkaDispatcher) consume(ctx context.Context) {
	defer close(d.done)
	for {
		msg, err := d.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			zap.L().Error("read notification failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.handle(msg)
	}
}

// Close 停止消费并关闭 Writer / Reader
func (d *KafkaDispatcher) Close() error {
	d.cancel()
	<-d.done
	werr := d.writer.Close()
	rerr := d.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// NewDispatcher 根据 messageMode 选择实现
func NewDispatcher(conf config.KafkaConfig, workerNum, bufferSize int) Dispatcher {
	if conf.MessageMode == "kafka" {
		if err := CreateTopic(conf); err != nil {
			zap.L().Warn("create notify topic failed", zap.Error(err))
		}
		zap.L().Info("notification mode: kafka", zap.String("topic", conf.NotifyTopic))
		return NewKafkaDispatcher(conf)
	}
	zap.L().Info("notification mode: channel")
	return NewChannelDispatcher(workerNum, bufferSize)
}
