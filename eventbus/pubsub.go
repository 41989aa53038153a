package eventbus

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/sirupsen/logrus"
)

const (
	AttributeTopic  = "topic"
	AttributeTenant = "tenant"
)

// PubSubForwarder publishes each signal to a Cloud Pub/Sub topic so other processes can refresh.
// Publishing is asynchronous; failures are logged and dropped.
type PubSubForwarder struct {
	topic  *pubsub.Topic
	tenant func() string
	logger *logrus.Logger
	wg     sync.WaitGroup
}

// NewPubSubForwarder wraps topic. tenant, when set, is stamped as a message attribute.
func NewPubSubForwarder(topic *pubsub.Topic, tenant func() string) *PubSubForwarder {
	return &PubSubForwarder{
		topic:  topic,
		tenant: tenant,
		logger: config.GetLogger(),
	}
}

func (f *PubSubForwarder) Forward(topic Topic) {
	attrs := map[string]string{AttributeTopic: string(topic)}
	if f.tenant != nil {
		if t := f.tenant(); t != "" {
			attrs[AttributeTenant] = t
		}
	}
	result := f.topic.Publish(context.Background(), &pubsub.Message{
		Data:       []byte(topic),
		Attributes: attrs,
	})

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := result.Get(ctx); err != nil {
			config.LogError(f.logger, "eventbus", "PubSubForwarder.Forward", "publish signal", string(topic), err)
		}
	}()
}

// Close waits for outstanding publishes and stops the topic's background goroutines.
func (f *PubSubForwarder) Close() {
	f.wg.Wait()
	f.topic.Stop()
}
