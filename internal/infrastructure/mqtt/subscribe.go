package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a refused filter.
const subackFailure = 0x80

// Subscribe subscribes to topic and waits for the SUBACK.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "@tap/msg/topic/dev-1:tok/+/temp"
//   - # (multi-level): "@private/#"
//
// Messages are delivered through Callbacks.OnMessage. Subscriptions are not
// restored by this client after a reconnect.
func (c *Client) Subscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	timeout := c.cfg.GetOperationTimeout()
	token := c.client.Subscribe(topic, byte(c.cfg.QoS), nil)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	// The broker reports ACL refusals in the SUBACK, not as a token error.
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subackFailure {
			return fmt.Errorf("%w: %s refused by broker", ErrSubscribeFailed, topic)
		}
	}

	return nil
}

// Unsubscribe removes the broker subscription for topic and waits for the
// UNSUBACK. Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	timeout := c.cfg.GetOperationTimeout()
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}
