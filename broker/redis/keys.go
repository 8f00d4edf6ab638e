package redis

// Redis key naming conventions for tempo data. Every key starts with the
// broker's prefix ("tempo:" unless overridden) to avoid collisions.
//
//	{p}queue:{name}   List       pending references, FIFO
//	{p}msg:{ref}      Hash       payload + queue of a reference
//	{p}scheduled      Sorted Set references by run-at (unix ms)
//	{p}inflight       Sorted Set references by visibility deadline (unix ms)
//	{p}dead           Sorted Set references by time of death (unix ms)
//	{p}lock:{name}    String     lock owner token, PX ttl
//	{p}notify         Channel    "something became pending"
//	{p}{key}          any        KV, hash and channel names from callers

func (b *Broker) queueKey(name string) string { return b.prefix + "queue:" + name }

func (b *Broker) msgKey(ref string) string { return b.prefix + "msg:" + ref }

func (b *Broker) scheduledKey() string { return b.prefix + "scheduled" }

func (b *Broker) inflightKey() string { return b.prefix + "inflight" }

func (b *Broker) deadKey() string { return b.prefix + "dead" }

func (b *Broker) lockKey(name string) string { return b.prefix + "lock:" + name }

func (b *Broker) notifyChannel() string { return b.prefix + "notify" }

// key namespaces a caller-supplied key or channel.
func (b *Broker) key(k string) string { return b.prefix + k }
