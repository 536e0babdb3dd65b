// Package mqtt provides MQTT client connectivity for the QLC+ bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions that survive reconnection
//   - Last Will and Testament (LWT) for offline detection
//
// The bridge publishes controller state on graylogic/state/qlc/... and
// listens for commands on graylogic/command/qlc/+. Topic names are owned by
// the bridge package; this package only moves bytes.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Credentials come from config or GRAYLOGIC_MQTT_USERNAME/PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(qlc.HealthTopic(), lwt))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/qlc/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
