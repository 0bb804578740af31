package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps one message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload and blocks until the broker acknowledges it at
// the requested QoS.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes at the configured QoS with the retain flag,
// so late subscribers receive the last tag or entity snapshot. An empty
// payload clears the retained message.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.qos(), true)
}

// PublishJSON encodes v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %T: %w", ErrPublishFailed, v, err)
	}
	return c.Publish(topic, payload, c.qos(), retained)
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) // #nosec G115 -- validated to 0..2 by config
}
