package kafka

// TopicPrefix namespaces every topic this platform writes.
const TopicPrefix = "marketplace"

// Topic returns "<prefix>.<domain>.<action>", e.g. marketplace.address.created.
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}
