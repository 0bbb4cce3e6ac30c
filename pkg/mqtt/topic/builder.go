package topic

import (
	"fmt"
)

// Topic segments shared between the API and its sync agents.
const (
	// SuffixStatus carries the retained online/offline status of a service.
	// Structure: {root}/status/{service}
	SuffixStatus = "status"
)

// TopicBuilder constructs MQTT topic strings under a common root.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "ecofleet/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// Status returns the status topic of a service, e.g. ecofleet/v1/status/api.
func (b *TopicBuilder) Status(service string) string {
	return b.build(SuffixStatus, service)
}

// StatusWildcard returns the filter matching the status of every service.
func (b *TopicBuilder) StatusWildcard() string {
	return b.build(SuffixStatus, Wildcard)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
