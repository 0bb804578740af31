package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes of the monitor's MQTT hierarchy.
const (
	// TopicPrefix is the root of every monitor topic.
	TopicPrefix = "graymon"

	// TopicPrefixAcquisition is where acquisition processes publish values
	// and receive commands.
	TopicPrefixAcquisition = "graymon/acquisition"

	// TopicPrefixCore is where the monitor publishes its state.
	TopicPrefixCore = "graymon/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graymon/system"
)

// Topics provides builders for monitor MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.AcquisitionValues("plant-a")
//	// Returns: "graymon/acquisition/plant-a/values"
type Topics struct{}

// =============================================================================
// Acquisition Topics
// =============================================================================

// AcquisitionValues returns the topic an acquisition process publishes
// source value batches on.
//
// Example: graymon/acquisition/plant-a/values
func (Topics) AcquisitionValues(process string) string {
	return fmt.Sprintf("%s/%s/values", TopicPrefixAcquisition, process)
}

// AcquisitionCommands returns the topic command executions are sent to.
//
// Example: graymon/acquisition/plant-a/commands
func (Topics) AcquisitionCommands(process string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixAcquisition, process)
}

// AcquisitionReports returns the topic command reports arrive on.
//
// Example: graymon/acquisition/plant-a/reports
func (Topics) AcquisitionReports(process string) string {
	return fmt.Sprintf("%s/%s/reports", TopicPrefixAcquisition, process)
}

// =============================================================================
// Core Topics
// =============================================================================

// CoreTag returns the retained topic of an accepted tag snapshot.
//
// Example: graymon/core/tag/42
func (Topics) CoreTag(id int64) string {
	return fmt.Sprintf("%s/tag/%d", TopicPrefixCore, id)
}

// CoreSupervision returns the retained topic of an entity's status.
//
// Example: graymon/core/supervision/equipment/10
func (Topics) CoreSupervision(family string, id int64) string {
	return fmt.Sprintf("%s/supervision/%s/%d", TopicPrefixCore, family, id)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the online/offline status topic.
//
// Example: graymon/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllAcquisitionValues matches value batches from every process.
//
// Pattern: graymon/acquisition/+/values
func (Topics) AllAcquisitionValues() string {
	return TopicPrefixAcquisition + "/+/values"
}

// AllAcquisitionReports matches command reports from every process.
//
// Pattern: graymon/acquisition/+/reports
func (Topics) AllAcquisitionReports() string {
	return TopicPrefixAcquisition + "/+/reports"
}

// AllCoreTags matches every published tag snapshot.
//
// Pattern: graymon/core/tag/+
func (Topics) AllCoreTags() string {
	return TopicPrefixCore + "/tag/+"
}

// AllTopics matches all monitor traffic.
//
// Pattern: graymon/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ProcessOf returns the process segment of an acquisition topic.
func ProcessOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixAcquisition+"/")
	if !ok {
		return "", false
	}
	process, _, ok := strings.Cut(rest, "/")
	if !ok || process == "" {
		return "", false
	}
	return process, true
}
