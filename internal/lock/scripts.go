package lock

import redis "github.com/redis/go-redis/v9"

// The acquire/release/refresh sequences each read and write several keys
// and must never interleave with a competing caller, so each runs as one
// server-side script. Key order is fixed across all three:
//
//	KEYS[1]        lock key of the path itself
//	KEYS[2]        descendant counter of the path itself (acquire only)
//	KEYS[3],[5],.. ancestor lock keys, shallowest first
//	KEYS[4],[6],.. ancestor descendant counters, paired with the above

// acquireScript implements the full acquisition check-then-act sequence.
// ARGV: token, ttl in milliseconds, strict-siblings flag ("1"/"0").
// Returns {1} on success, {0, reason} on refusal. Ancestor counter TTLs
// only ever extend, so a short lease cannot cut short the accounting of a
// longer-lived sibling.
var acquireScript = redis.NewScript(`
local token = ARGV[1]
local ttl = tonumber(ARGV[2])
local strict = ARGV[3] == "1"

local below = tonumber(redis.call("GET", KEYS[2]) or "0")
if below > 0 then
	return {0, "descendants"}
end

for i = 3, #KEYS, 2 do
	if redis.call("EXISTS", KEYS[i]) == 1 then
		return {0, "ancestor"}
	end
end

if strict then
	for i = 4, #KEYS, 2 do
		local count = tonumber(redis.call("GET", KEYS[i]) or "0")
		if count > 0 then
			return {0, "sibling"}
		end
	end
end

if not redis.call("SET", KEYS[1], token, "NX", "PX", ttl) then
	return {0, "held"}
end

for i = 4, #KEYS, 2 do
	redis.call("INCR", KEYS[i])
	if redis.call("PTTL", KEYS[i]) < ttl then
		redis.call("PEXPIRE", KEYS[i], ttl)
	end
end

return {1}
`)

// releaseScript deletes the lock and unwinds ancestor accounting, but only
// when the caller still owns it. ARGV: token. Returns 1 on release, 0 on
// ownership mismatch.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end

redis.call("DEL", KEYS[1])

for i = 4, #KEYS, 2 do
	local left = redis.call("DECR", KEYS[i])
	if left <= 0 then
		redis.call("DEL", KEYS[i])
	end
end

return 1
`)

// refreshScript extends the lease of a held lock and of every ancestor
// counter that still exists. ARGV: token, ttl in milliseconds. Returns 1
// on refresh, 0 on ownership mismatch.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end

local ttl = tonumber(ARGV[2])
redis.call("PEXPIRE", KEYS[1], ttl)

for i = 4, #KEYS, 2 do
	if redis.call("EXISTS", KEYS[i]) == 1 and redis.call("PTTL", KEYS[i]) < ttl then
		redis.call("PEXPIRE", KEYS[i], ttl)
	end
end

return 1
`)
