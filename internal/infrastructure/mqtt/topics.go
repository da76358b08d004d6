package mqtt

import (
	"fmt"
	"strings"
)

// Topic namespace roots.
const (
	// TopicPrefixBridge is the root for bridge command, ack, state and
	// health topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the root for per-client status topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics builds topic strings. It carries no state; use Topics{}.
type Topics struct{}

// BridgeCommand is where commands for one device arrive.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck is where command results for one device are published.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeState is where device state is published (retained).
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth is where a bridge publishes its health (retained).
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// AllBridgeCommands matches the command topics of every device of a
// protocol.
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// SystemStatus is the online/offline topic of one client, also used as its
// Last Will.
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixSystem, clientID)
}

// AddressFromTopic returns the last segment of a bridge topic, which is the
// device address. It returns "" for topics without one.
func AddressFromTopic(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 {
		return ""
	}
	return topic[i+1:]
}
