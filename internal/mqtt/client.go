// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package mqtt implements the pub/sub client (spec component D): a thin
// façade over the paho MQTT client with a custom exponential-backoff
// reconnect loop, per-device heartbeat subscription, and best-effort
// static/plan publish.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"lighting-hub/internal/config"
	"lighting-hub/internal/hub"
	"lighting-hub/internal/metrics"
)

// Client is the hub's pub/sub façade. One Client is shared by the planner
// (publishing plan windows) and the HTTP/API layer (publishing static
// updates); heartbeat ingestion feeds hub.State directly.
type Client struct {
	cfg     config.MQTTConfig
	devices []config.DeviceConfig
	state   *hub.State
	logger  *slog.Logger

	mu            sync.Mutex
	client        paho.Client
	lostCh        chan struct{}
	everConnected bool
	stopCh        chan struct{}
	done          chan struct{}
}

// NewClient builds a pub/sub client for the given device set. devices
// supplies the per-device topic triple (§6) subscribed/published to.
func NewClient(cfg config.MQTTConfig, devices []config.DeviceConfig, state *hub.State, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		devices: devices,
		state:   state,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the reconnect loop in the background. It returns
// immediately; connection happens asynchronously so startup never blocks
// on broker availability (§5: "may block in the bus library" is isolated
// to this one worker).
func (c *Client) Start() {
	go c.reconnectLoop()
}

// Stop signals the reconnect loop to exit and disconnects cleanly. It
// returns once the worker has exited, honoring §5's shutdown-responsiveness
// requirement.
func (c *Client) Stop() {
	close(c.stopCh)
	<-c.done
}

func (c *Client) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.cfg.BrokerHost, c.cfg.BrokerPort)
}

// reconnectLoop owns the connect/backoff/subscribe cycle (§4.D.2): on any
// connect failure or disconnect it retries with exponential backoff,
// doubling on each attempt and resetting to the configured minimum on a
// successful connect.
func (c *Client) reconnectLoop() {
	defer close(c.done)

	minDelay := time.Duration(c.cfg.ReconnectDelayMin) * time.Second
	maxDelay := time.Duration(c.cfg.ReconnectDelayMax) * time.Second
	delay := minDelay

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		lostCh := make(chan struct{}, 1)
		c.mu.Lock()
		c.lostCh = lostCh
		c.mu.Unlock()

		opts := paho.NewClientOptions()
		opts.AddBroker(c.brokerURL())
		opts.SetClientID(c.cfg.ClientID)
		opts.SetAutoReconnect(false)
		opts.SetKeepAlive(30 * time.Second)
		opts.SetCleanSession(true)
		if c.cfg.Username != "" {
			opts.SetUsername(c.cfg.Username)
			opts.SetPassword(c.cfg.Password)
		}
		opts.SetOnConnectHandler(c.onConnect)
		opts.SetConnectionLostHandler(func(_ paho.Client, err error) { c.onLost(lostCh, err) })

		client := paho.NewClient(opts)
		token := client.Connect()
		token.Wait()

		if err := token.Error(); err != nil {
			c.logger.Warn("mqtt connect failed", "broker", c.brokerURL(), "error", err, "retry_in", delay)
			c.state.IncrementMQTTError()
			metrics.MQTTReconnectsTotal.Inc()
			if !c.sleep(delay) {
				return
			}
			delay = nextBackoff(delay, maxDelay)
			continue
		}

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()
		delay = minDelay

		select {
		case <-lostCh:
			c.logger.Warn("mqtt connection lost, reconnecting", "retry_in", delay)
			if !c.sleep(delay) {
				return
			}
		case <-c.stopCh:
			client.Disconnect(250)
			return
		}
	}
}

func nextBackoff(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		delay = max
	}
	return delay
}

// sleep waits for d or the stop signal, returning false if stop fired
// first (§5: reconnect loop exits immediately on shutdown).
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Client) onConnect(client paho.Client) {
	c.logger.Info("mqtt connected", "broker", c.brokerURL())
	c.state.SetMQTTConnected(true)

	c.mu.Lock()
	isReconnect := c.everConnected
	c.everConnected = true
	c.mu.Unlock()

	for _, dev := range c.devices {
		if isReconnect {
			c.state.IncrementDeviceReconnect(dev.DeviceID)
		}
		if dev.Topics.Heartbeat == "" {
			continue
		}
		deviceID := dev.DeviceID
		topic := dev.Topics.Heartbeat
		token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			c.handleHeartbeat(deviceID, msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (c *Client) onLost(lostCh chan<- struct{}, err error) {
	c.logger.Warn("mqtt connection lost", "error", err)
	c.state.SetMQTTConnected(false)
	select {
	case lostCh <- struct{}{}:
	default:
	}
}

// heartbeatPayload is the optional JSON status blob a device may send on
// its heartbeat topic. Parsing failure is benign (§4.D.3): any bytes,
// including an empty body, count as a liveness ping.
type heartbeatPayload struct {
	Status string `json:"status"`
}

func (c *Client) handleHeartbeat(deviceID string, payload []byte) {
	if len(payload) > 0 {
		var hb heartbeatPayload
		_ = json.Unmarshal(payload, &hb) // parse failure is benign, ignored
	}
	if err := c.state.UpdateHeartbeat(deviceID); err != nil {
		c.logger.Debug("heartbeat for unknown device", "device_id", deviceID)
	}
}

func (c *Client) connectedClient() (paho.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnected() {
		return nil, false
	}
	return c.client, true
}

// staticPayload is the wire shape of the set_static topic (§6).
type staticPayload struct {
	Values []int `json:"values"`
}

// PublishStatic emits a device's static values on its set_static topic at
// QoS 1. Returns false without blocking if the client is not connected
// (§4.D.4, §7c).
func (c *Client) PublishStatic(topic string, values []byte) bool {
	client, ok := c.connectedClient()
	if !ok || topic == "" {
		return false
	}
	ints := make([]int, len(values))
	for i, v := range values {
		ints[i] = int(v)
	}
	data, err := json.Marshal(staticPayload{Values: ints})
	if err != nil {
		return false
	}
	token := client.Publish(topic, 1, false, data)
	return token.WaitTimeout(2*time.Second) && token.Error() == nil
}

// PublishPlan emits a pre-marshaled plan payload (§4.E step 5) on a
// device's set_plan topic at QoS 1.
func (c *Client) PublishPlan(topic string, payload []byte) bool {
	client, ok := c.connectedClient()
	if !ok || topic == "" {
		return false
	}
	token := client.Publish(topic, 1, false, payload)
	return token.WaitTimeout(2*time.Second) && token.Error() == nil
}

// Connected reports whether the client currently holds a live broker
// connection.
func (c *Client) Connected() bool {
	_, ok := c.connectedClient()
	return ok
}
