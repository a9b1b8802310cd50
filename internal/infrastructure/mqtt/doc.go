// Package mqtt provides MQTT client connectivity for Forge Panel.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Forge Panel uses MQTT as an outbound event bus: server status
// transitions, console output, and audit events are mirrored to the
// broker so external dashboards, Discord bots, and alerting tools can
// react to server activity without polling the HTTP API.
//
//	Forge Panel ↔ MQTT Broker ↔ External Consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all server status updates
//	err = client.Subscribe(mqtt.Topics{}.AllServerStatuses(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a status update
//	topic := mqtt.Topics{}.ServerStatus("srv-a1b2c3d4")
//	client.Publish(topic, []byte(`{"status":"running"}`), 1, true)
package mqtt
