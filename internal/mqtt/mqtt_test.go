package mqtt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/enomesh/log2"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		filter, topic string
		expect        bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/c", true},
		{"a/+", "a/c/d", false},
		{"a/#", "a/c/d", true},
		{"#", "x", true},
		{"a/b/c", "a/b", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, Match(c.filter, c.topic), "filter=%s topic=%s", c.filter, c.topic)
	}
}

func TestMock(t *testing.T) {
	t.Parallel()

	m := NewMock()
	got := []string{}
	require.NoError(t, m.Subscribe("scan/+", 0, func(topic string, payload []byte) {
		got = append(got, fmt.Sprintf("%s=%x", topic, payload))
	}))
	require.NoError(t, m.Publish("scan/1", 0, false, []byte{1}))
	m.PublishAsync("other", 1, true, []byte{2})
	assert.Equal(t, []string{"scan/1=01"}, got)
	assert.Len(t, m.Sent(""), 2)
	assert.Equal(t, []Message{{Topic: "other", QOS: 1, Retain: true, Payload: []byte{2}}}, m.Sent("other"))

	m.SetErr(fmt.Errorf("offline"))
	assert.Error(t, m.Publish("scan/1", 0, false, nil))
}

func TestNewClientInvalidBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(log2.NewTest(t, log2.LDebug), Config{Broker: "no scheme"})
	assert.Error(t, err)
}
