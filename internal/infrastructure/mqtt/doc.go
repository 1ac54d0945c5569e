// Package mqtt provides the broker transport for flow-channel sessions.
//
// This package manages:
//   - Connection to the NETPIE broker with paho's fixed-period retry
//   - QoS 0 publishing
//   - Blocking subscribe/unsubscribe with SUBACK inspection
//   - Quiescing teardown: no callback fires once Close returns
//
// # Architecture
//
//	session.Session ↔ mqtt.Client ↔ NETPIE broker
//
// The client is deliberately stateless about subscriptions. Sessions are
// clean, so the session layer re-issues its reference-counted filters from
// the OnConnect callback after every reconnect.
//
// # Connection Defaults
//
//   - Keepalive: 15 seconds
//   - Connect timeout: 5 seconds
//   - Reconnect: every 5 seconds, no backoff growth
//   - Delivery: unordered, one goroutine per message
//
// # Usage
//
//	client, err := mqtt.Dial(cfg.MQTT, mqtt.Credentials{
//	    ClientID: "p1-1700000000000",
//	    Username: "p1",
//	    Password: "secret",
//	}, mqtt.Callbacks{
//	    OnConnect: func() { log.Println("connected") },
//	    OnMessage: func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    },
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
package mqtt
