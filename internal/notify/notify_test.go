package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, completed bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        mqtt.Token
	published    []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{token: newToken(nil, true)}
	p := newMQTTPublisher(client, "")

	err := p.Publish(context.Background(), Event{Type: "infleet", VIN: "1HG123", LoanerRequestID: "row-1", Timestamp: "2025-03-01T12:00:00Z"})
	require.NoError(t, err)
	require.Len(t, client.published, 1)

	msg := client.published[0]
	assert.Equal(t, "loaner/events/infleet", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "infleet", decoded["event"])
	assert.Equal(t, "1HG123", decoded["vin"])
	assert.NotContains(t, decoded, "warning")
}

func TestMQTTPublisher_TopicPrefix(t *testing.T) {
	p := newMQTTPublisher(&fakeClient{}, "dealer/42/")
	assert.Equal(t, "dealer/42/defleet", p.Topic("defleet"))
}

func TestMQTTPublisher_BrokerError(t *testing.T) {
	client := &fakeClient{token: newToken(errors.New("not authorized"), true)}
	p := newMQTTPublisher(client, "x")
	assert.EqualError(t, p.Publish(context.Background(), Event{Type: "defleet"}), "not authorized")
}

func TestMQTTPublisher_ContextCancelled(t *testing.T) {
	client := &fakeClient{token: newToken(nil, false)}
	p := newMQTTPublisher(client, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Type: "infleet"}), context.Canceled)
}

func TestMQTTPublisher_Close(t *testing.T) {
	client := &fakeClient{}
	newMQTTPublisher(client, "").Close()
	assert.True(t, client.disconnected)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: "infleet"}))
	p.Close()
}
