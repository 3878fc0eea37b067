package rediskey

import "fmt"

// Key conventions shared across the API and the worker.
const (
	EventPrefix = "event"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildEventKey returns "event:{eventID}"
func BuildEventKey(eventID string) string {
	return NamespaceKey(EventPrefix, eventID)
}
