package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "crm"

// Topics builds CRM Core MQTT topics under a prefix.
//
//	topics := mqtt.NewTopics("crm")
//	topics.Audit("login_failed") // "crm/audit/login_failed"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// SystemStatus is the retained online/offline status topic.
//
// Example: crm/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// Audit is the topic audit events for action are published on.
//
// Example: crm/audit/login
func (t Topics) Audit(action string) string {
	return t.prefix + "/audit/" + action
}

// StoreMode is the retained topic carrying the active persistence backend.
//
// Example: crm/store/mode
func (t Topics) StoreMode() string {
	return t.prefix + "/store/mode"
}
