package rediskey

import "fmt"

// Progression keys (global convention across services)
const (
	ProgressionPrefix     = "progression"
	ProgressionUserPrefix = "progression:user"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUserChannel returns "progression:user:{userID}", the pub/sub
// channel a user's progression events are published to.
func BuildUserChannel(userID string) string {
	return NamespaceKey(ProgressionUserPrefix, userID)
}
