package state

import "codeduel/internal/common/cache"

// removePairScript removes two queue members and their join times only when
// both are still queued.
var removePairScript = cache.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) and redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	redis.call('ZREM', KEYS[1], ARGV[1], ARGV[2])
	redis.call('HDEL', KEYS[2], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// unbindSocketScript deletes the binding only if it still names this connection.
var unbindSocketScript = cache.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// incrWindowScript counts one hit in a fixed window and returns the count.
var incrWindowScript = cache.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)
