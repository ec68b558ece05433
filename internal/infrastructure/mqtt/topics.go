package mqtt

import "fmt"

// TopicPrefix is the root of every MicroCoaster topic.
const TopicPrefix = "microcoaster"

// Topics provides builders for MicroCoaster MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ModulePresence("MC-0001-ST")
//	// Returns: "microcoaster/module/MC-0001-ST/presence"
type Topics struct{}

// ModulePresence returns the retained presence topic of a module.
func (Topics) ModulePresence(moduleID string) string {
	return fmt.Sprintf("%s/module/%s/presence", TopicPrefix, moduleID)
}

// ModuleTelemetry returns the telemetry topic of a module.
func (Topics) ModuleTelemetry(moduleID string) string {
	return fmt.Sprintf("%s/module/%s/telemetry", TopicPrefix, moduleID)
}

// ModuleAck returns the command acknowledgement topic of a module.
func (Topics) ModuleAck(moduleID string) string {
	return fmt.Sprintf("%s/module/%s/ack", TopicPrefix, moduleID)
}

// AllModulePresence is a subscription filter for every presence topic.
func (Topics) AllModulePresence() string {
	return TopicPrefix + "/module/+/presence"
}

// SystemStatus returns the core status topic carrying the Last Will.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/core/status"
}
