package rediskey

import "fmt"

const (
	Prefix             = "octopus"
	IntervalGatePrefix = "octopus:gate"
	SweepLockPrefix    = "octopus:sweep"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildIntervalGateKey returns "octopus:gate:{taskID}:{clientID}"
func BuildIntervalGateKey(taskID, clientID string) string {
	return NamespaceKey(IntervalGatePrefix, taskID+":"+clientID)
}
