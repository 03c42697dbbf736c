// Package mqtt is shared broker connection for mesh gateway, radio scanner
// and telemetry topics.
package mqtt

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/enomesh/helpers"
	"github.com/temoto/enomesh/log2"
)

const (
	DefaultKeepalive      = 60 * time.Second
	DefaultNetworkTimeout = 30 * time.Second
)

// Handler receives message payload, must return quickly.
type Handler func(topic string, payload []byte)

// PubSub contract:
// - Publish blocks at most network timeout
// - PublishAsync never blocks, delivery error goes to log
// - subscriptions survive reconnect
type PubSub interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
	PublishAsync(topic string, qos byte, retain bool, payload []byte)
	Subscribe(topic string, qos byte, h Handler) error
}

type Config struct {
	Broker            string `hcl:"broker"`
	ClientID          string `hcl:"client_id"`
	Username          string `hcl:"username"`
	Password          string `hcl:"password"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	LogDebug          bool   `hcl:"log_debug"`
}

type subscription struct {
	qos byte
	h   Handler
}

type Client struct {
	log     *log2.Log
	m       paho.Client
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient validates config and starts connecting in background,
// network absence is not an error.
func NewClient(log *log2.Log, config Config) (*Client, error) {
	if _, err := url.ParseRequestURI(config.Broker); err != nil {
		return nil, errors.Annotatef(err, "mqtt broker=%s", config.Broker)
	}
	mqttLog := log.Clone(log2.LInfo)
	if config.LogDebug {
		mqttLog.SetLevel(log2.LDebug)
		paho.DEBUG = mqttLog
	}
	paho.ERROR = mqttLog
	paho.CRITICAL = mqttLog
	paho.WARN = mqttLog

	self := &Client{
		log:     log,
		timeout: helpers.IntSecondDefault(config.NetworkTimeoutSec, DefaultNetworkTimeout),
		subs:    make(map[string]subscription),
	}
	if self.timeout < time.Second {
		self.timeout = time.Second
	}
	keepAlive := helpers.IntSecondDefault(config.KeepaliveSec, DefaultKeepalive)
	clientID := config.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("enomesh-%d", time.Now().Unix())
	}

	opt := paho.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(clientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetKeepAlive(keepAlive).
		SetPingTimeout(self.timeout).
		SetConnectTimeout(self.timeout).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetConnectRetryInterval(self.timeout / 2).
		SetConnectRetry(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost)
	self.m = paho.NewClient(opt)
	if token := self.m.Connect(); token.Error() != nil {
		return nil, errors.Annotate(token.Error(), "mqtt connect")
	}
	return self, nil
}

func (self *Client) Close() {
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
}

func (self *Client) Publish(topic string, qos byte, retain bool, payload []byte) error {
	token := self.m.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(self.timeout) {
		return errors.Timeoutf("mqtt publish topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "mqtt publish topic=%s", topic)
}

func (self *Client) PublishAsync(topic string, qos byte, retain bool, payload []byte) {
	token := self.m.Publish(topic, qos, retain, payload)
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				self.log.Errorf("mqtt publish topic=%s err=%v", topic, err)
			}
		case <-time.After(self.timeout):
			self.log.Errorf("mqtt publish topic=%s timeout", topic)
		}
	}()
}

// Subscribe remembers handler and subscribes now if connected,
// otherwise on connect.
func (self *Client) Subscribe(topic string, qos byte, h Handler) error {
	self.mu.Lock()
	self.subs[topic] = subscription{qos: qos, h: h}
	self.mu.Unlock()
	if !self.m.IsConnectionOpen() {
		return nil
	}
	return self.subscribe(self.m, topic, subscription{qos: qos, h: h})
}

func (self *Client) subscribe(c paho.Client, topic string, s subscription) error {
	token := c.Subscribe(topic, s.qos, func(_ paho.Client, msg paho.Message) {
		s.h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(self.timeout) {
		return errors.Timeoutf("mqtt subscribe topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "mqtt subscribe topic=%s", topic)
}

func (self *Client) onConnect(c paho.Client) {
	self.log.Infof("mqtt connected")
	self.mu.Lock()
	subs := make(map[string]subscription, len(self.subs))
	for k, v := range self.subs {
		subs[k] = v
	}
	self.mu.Unlock()
	// paho calls handler on own goroutine, blocking subscribe is fine
	for topic, s := range subs {
		if err := self.subscribe(c, topic, s); err != nil {
			self.log.Error(err)
		}
	}
}

func (self *Client) onConnectionLost(c paho.Client, err error) {
	self.log.Errorf("mqtt connection lost err=%v", err)
}

var _ PubSub = &Client{}
