// Package adapter carries room membership and emitted events between qio
// server processes over an external publish/subscribe broker.
//
// Every process publishes JSON encoded Message values on one channel named
// after the deployment namespace and consumes the same channel through a
// single ordered consumer. Messages published by the consuming process itself
// are dropped, and broker replays are dropped by message ID.
//
// Concrete brokers implement Transport:
//
//   - MemoryHub: in-process hub, used for tests and single-binary clusters
//   - Redis: Redis PUBLISH/SUBSCRIBE (standalone, cluster or sentinel)
//   - NATS: NATS core subjects
//   - AMQP: RabbitMQ fanout exchange with one exclusive queue per process
//   - Kafka: a topic read from the newest offset of every partition
//
// # Basic Usage
//
//	transport, err := adapter.NewTransport(adapter.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	a, err := adapter.New(transport, adapter.WithNamespace("socketio-example"))
//	if err != nil {
//	    return err
//	}
//	a.OnMessage(func(msg *adapter.Message) {
//	    // route msg to local connections
//	})
//	if err := a.Start(ctx); err != nil {
//	    return err
//	}
//	defer a.Close()
//
// Publish never blocks on a lost broker: while the subscription is down it
// returns ErrBrokerUnavailable and the subscription is retried with
// exponential backoff in the background.
package adapter
