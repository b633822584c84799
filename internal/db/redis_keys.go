package db

// RedisKeyBuilder builds namespaced Redis keys for collaboration state
type RedisKeyBuilder struct {
	prefix string
}

// NewRedisKeyBuilder creates a key builder; prefix is prepended verbatim
func NewRedisKeyBuilder(prefix string) *RedisKeyBuilder {
	return &RedisKeyBuilder{prefix: prefix}
}

// PresenceKey is the hash holding one user's presence record
func (b *RedisKeyBuilder) PresenceKey(userID string) string {
	return b.prefix + "presence:" + userID
}

// OnlineUsersKey is the set of user IDs currently online
func (b *RedisKeyBuilder) OnlineUsersKey() string {
	return b.prefix + "presence:online"
}

// EditOperationsKey is the stream receiving every relayed edit operation
func (b *RedisKeyBuilder) EditOperationsKey() string {
	return b.prefix + "edit_operations"
}
