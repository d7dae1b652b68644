package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	declareErr error
	publishErr error
	closed     int
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

func TestRabbitPublisherPublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewRabbitPublisher(ch, "ex.notifications", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ex.notifications:direct"}, ch.declared)

	err = p.Publish(context.Background(), "lead_update", map[string]string{"leadId": "1"})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, []string{"ex.notifications/lead_update"}, ch.keys)
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "1", body["leadId"])
}

func TestRabbitPublisherDeclareFailure(t *testing.T) {
	_, err := NewRabbitPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "ex", nil)
	assert.ErrorContains(t, err, "access refused")
}

func TestRabbitPublisherClose(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewRabbitPublisher(ch, "ex", nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, ch.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), "k", nil), ErrClosed)
}

func TestRabbitPublisherWrapsPublishError(t *testing.T) {
	p, err := NewRabbitPublisher(&fakeChannel{publishErr: errors.New("channel closed")}, "ex", nil)
	require.NoError(t, err)
	err = p.Publish(context.Background(), "lead_update", struct{}{})
	assert.ErrorContains(t, err, "ex/lead_update")
}
