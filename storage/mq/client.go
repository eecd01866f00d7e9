package mq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"Outcall/config"
)

// 引擎的事件拓扑：webhook 侧发布 call ended 事件，worker 侧消费
const (
	ExchangeCallEvents = "calls.events"
	QueueCallEnded     = "calls.call_ended"
	KeyCallEnded       = "calls.call.ended"
)

var (
	conn   *amqp.Connection
	mqOnce sync.Once
	mqErr  error
)

func Init() error {
	mqOnce.Do(func() {
		url := config.Cfg.GetRabbitMQURL()

		conn, mqErr = amqp.Dial(url)
		if mqErr != nil {
			return
		}

		var ch *amqp.Channel
		ch, mqErr = conn.Channel()
		if mqErr != nil {
			return
		}
		defer ch.Close()

		mqErr = declareTopology(ch)
	})

	return mqErr
}

// declareTopology 声明交换机、队列和绑定，幂等
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeCallEvents,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		QueueCallEnded,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	return ch.QueueBind(QueueCallEnded, KeyCallEnded, ExchangeCallEvents, false, nil)
}

func Connection() *amqp.Connection {
	return conn
}

func Close(ctx context.Context) error {
	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
