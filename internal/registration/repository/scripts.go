package repository

// KEYS: record, name index, owner set, created counter
// ARGV: now(ms), claimId, ttl(ms), field/value pairs...
//
// A name held by a pending claim past its expiry is released here, inside the
// same script that takes it.
const createScript = `
local now = tonumber(ARGV[1])
local holder = redis.call("GET", KEYS[2])
if holder then
  local holderKey = "registration:" .. holder
  local state = redis.call("HMGET", holderKey, "status", "expiresAt", "ownerAddress")
  if state[1] == "verified" then
    return 0
  end
  if state[1] == "pending_claim" then
    if tonumber(state[2]) >= now then
      return 0
    end
    redis.call("DEL", holderKey)
    redis.call("SREM", "wallet:registrations:" .. state[3], holder)
  end
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  return -1
end
redis.call("HSET", KEYS[1], unpack(ARGV, 4))
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("SET", KEYS[2], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("INCR", KEYS[4])
return 1
`

// KEYS: record, name index, verified counter, api key record, wallet agent key set
// ARGV: now(ms), tweetUrl, key label, key createdAt(ms)
//
// Returns 0 ok, 1 not found, 2 not pending, 3 expired.
const verifyScript = `
local now = tonumber(ARGV[1])
local state = redis.call("HMGET", KEYS[1], "status", "expiresAt", "ownerAddress", "apiKeyHash", "apiKeyPrefix", "agentName", "claimId")
if not state[1] then
  return 1
end
if state[1] ~= "pending_claim" then
  return 2
end
if tonumber(state[2]) < now then
  return 3
end
redis.call("HSET", KEYS[1], "status", "verified", "verifiedAt", ARGV[1], "tweetUrl", ARGV[2])
redis.call("PERSIST", KEYS[1])
if redis.call("GET", KEYS[2]) == state[7] then
  redis.call("PERSIST", KEYS[2])
end
redis.call("HSET", KEYS[4],
  "walletAddress", state[3],
  "label", ARGV[3],
  "keyPrefix", state[5],
  "createdAt", ARGV[4],
  "requestCount", 0,
  "claimId", state[7],
  "agentName", state[6])
redis.call("SADD", KEYS[5], state[4])
redis.call("INCR", KEYS[3])
return 0
`

// KEYS: record, name index, owner set, api key record, wallet agent key set, revoked counter
// ARGV: owner, now(ms), claimId, apiKeyHash, retention(ms)
//
// Returns {0, field, value, ...} with the record before revocation, {1} when
// missing or owned by someone else, {2} when already revoked.
const revokeScript = `
local fields = redis.call("HGETALL", KEYS[1])
if #fields == 0 then
  return {1}
end
local rec = {}
for i = 1, #fields, 2 do
  rec[fields[i]] = fields[i + 1]
end
if rec["ownerAddress"] ~= ARGV[1] then
  return {1}
end
if rec["status"] == "revoked" then
  return {2}
end
redis.call("HSET", KEYS[1], "status", "revoked", "revokedAt", ARGV[2])
if redis.call("GET", KEYS[2]) == ARGV[3] then
  redis.call("DEL", KEYS[2])
end
redis.call("SREM", KEYS[3], ARGV[3])
if rec["status"] == "verified" then
  redis.call("DEL", KEYS[4])
  redis.call("SREM", KEYS[5], ARGV[4])
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("INCR", KEYS[6])
local out = {0}
for i = 1, #fields do
  out[#out + 1] = fields[i]
end
return out
`
