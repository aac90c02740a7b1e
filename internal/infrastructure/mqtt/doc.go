// Package mqtt provides MQTT connectivity for CRM Core.
//
// CRM Core only publishes. The broker carries:
//   - audit events on <prefix>/audit/<action>
//   - the active persistence backend on <prefix>/store/mode (retained)
//   - online/offline status on <prefix>/system/status (retained, with LWT)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Audit payloads carry ids, roles and outcomes, never credentials
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().Audit("login")
//	err = client.PublishJSON(topic, entry, false)
package mqtt
