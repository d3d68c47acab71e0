// Package mqtt provides the MQTT transport for the pglive broker bridge.
//
// This package manages:
//   - One shared connection to the broker with auto-reconnect
//   - Topic filter subscriptions, restored after every reconnect
//   - Publishing of change events
//   - Last Will and Testament on the configured status topic
//
// Database triggers (or a relay in front of them) publish row changes on
// topics of the form <prefix>/<operation>/<table>/<column>/<value>; live
// subscriptions register wildcard filters over that hierarchy.
//
// # Security Considerations
//
//   - TLS should be enabled for any broker outside localhost (cfg.Broker.TLS=true)
//   - Payloads are delivered to clients only after the row-level access check
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return fmt.Errorf("connecting to MQTT: %w", err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("pg/+/projects/#", 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
