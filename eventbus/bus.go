package eventbus

import (
	"sync"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/sirupsen/logrus"
)

// Topic names a payload-less change signal. Subscribers re-read the local store on signal.
type Topic string

const (
	TopicCustomerUpdated            Topic = "customerUpdated"
	TopicSupplierUpdated            Topic = "supplierUpdated"
	TopicBusinessUpdated            Topic = "businessUpdated"
	TopicInventoryUpdated           Topic = "inventoryUpdated"
	TopicBillUpdated                Topic = "billUpdated"
	TopicSupplierTransactionUpdated Topic = "supplierTransactionUpdated"
	TopicTransactionUpdated         Topic = "transactionUpdated"
	TopicSyncCompleted              Topic = "syncCompleted"
	TopicBusinessSwitched           Topic = "businessSwitched"
)

func AllTopics() []Topic {
	return []Topic{
		TopicCustomerUpdated,
		TopicSupplierUpdated,
		TopicBusinessUpdated,
		TopicInventoryUpdated,
		TopicBillUpdated,
		TopicSupplierTransactionUpdated,
		TopicTransactionUpdated,
		TopicSyncCompleted,
		TopicBusinessSwitched,
	}
}

// Emitter is what the sync engine needs from the bus.
type Emitter interface {
	Emit(topic Topic)
}

// Sink receives every emitted topic after local subscribers ran.
type Sink interface {
	Forward(topic Topic)
}

type subscriber struct {
	id int
	fn func()
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscriber
	nextId int
	sinks  []Sink
	logger *logrus.Logger
}

func New() *Bus {
	return &Bus{
		subs:   make(map[Topic][]subscriber),
		logger: config.GetLogger(),
	}
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default is the process-wide bus UI collaborators register on at startup.
func Default() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

// Subscribe registers fn for topic and returns the function that removes it.
func (b *Bus) Subscribe(topic Topic, fn func()) func() {
	b.mu.Lock()
	id := b.nextId
	b.nextId++
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// AddSink attaches an out-of-process forwarder.
func (b *Bus) AddSink(sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Emit calls every subscriber of topic synchronously. A panicking subscriber is logged
// and does not stop the others.
func (b *Bus) Emit(topic Topic) {
	b.mu.RLock()
	list := append([]subscriber(nil), b.subs[topic]...)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range list {
		b.call(topic, s.fn)
	}
	for _, sink := range sinks {
		sink.Forward(topic)
	}
}

func (b *Bus) call(topic Topic, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"module": "eventbus",
				"topic":  string(topic),
				"panic":  r,
			}).Error("subscriber panicked")
		}
	}()
	fn()
}

// SubscriberCount is the number of live subscribers of topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
