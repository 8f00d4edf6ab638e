package redis

import goredis "github.com/redis/go-redis/v9"

// Every transition between queue states runs as one script so a reference
// is never observable in two states, or in none.

// KEYS: msg, target. ARGV: payload, queue, mode, score, ref, channel.
// A ref that already has a payload is left where it is, so a push repeated
// after a lost reply cannot list it twice.
var pushScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'queue', ARGV[2])
if ARGV[3] == 'later' then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
else
  redis.call('RPUSH', KEYS[2], ARGV[5])
  redis.call('PUBLISH', ARGV[6], ARGV[2])
end
return 1
`)

// KEYS: inflight, queue... ARGV: deadline, msg prefix.
var popScript = goredis.NewScript(`
for i = 2, #KEYS do
  local ref = redis.call('LPOP', KEYS[i])
  if ref then
    redis.call('ZADD', KEYS[1], ARGV[1], ref)
    local f = redis.call('HMGET', ARGV[2] .. ref, 'payload', 'queue')
    return {ref, f[1] or '', f[2] or ''}
  end
end
return false
`)

// KEYS: inflight, msg. ARGV: ref.
var ackScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('DEL', KEYS[2])
return 1
`)

// KEYS: inflight, msg, destination set. ARGV: ref, payload, score.
var moveScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'payload', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: source set. ARGV: max score, limit, key prefix, push command, channel.
// ZREM succeeding is the claim: a concurrent caller that loses it skips the
// reference.
var drainScript = goredis.NewScript(`
local refs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, ref in ipairs(refs) do
  if redis.call('ZREM', KEYS[1], ref) == 1 then
    local q = redis.call('HGET', ARGV[3] .. 'msg:' .. ref, 'queue')
    if q then
      redis.call(ARGV[4], ARGV[3] .. 'queue:' .. q, ref)
      moved = moved + 1
    end
  end
end
if moved > 0 then
  redis.call('PUBLISH', ARGV[5], 'moved')
end
return moved
`)

// KEYS: dead, msg. ARGV: ref.
var deadDeleteScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('DEL', KEYS[2])
return 1
`)

// KEYS: dead. ARGV: key prefix.
var deadPurgeScript = goredis.NewScript(`
local refs = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, ref in ipairs(refs) do
  redis.call('DEL', ARGV[1] .. 'msg:' .. ref)
end
redis.call('DEL', KEYS[1])
return #refs
`)

// KEYS: lock. ARGV: owner, ttl ms.
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// KEYS: lock. ARGV: owner, ttl ms.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// KEYS: lock. ARGV: owner.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS: hash. ARGV: field, old, value, expect ('absent' or 'equal').
var hsetIfScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur == ARGV[3] then
  return 1
end
if ARGV[4] == 'absent' then
  if cur then
    return 0
  end
elseif cur ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)
