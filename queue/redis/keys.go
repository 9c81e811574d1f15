package redis

import "time"

// DefaultKeyPrefix namespaces every key written by the backend.
const DefaultKeyPrefix = "hookrelay:"

// jobKey returns the hash key of a job: {prefix}job:{id}
func (b *Backend) jobKey(id string) string { return b.prefix + "job:" + id }

// queueKey returns the sorted set of claimable jobs, scored by RunAt: {prefix}queue:{name}
func (b *Backend) queueKey(name string) string { return b.prefix + "queue:" + name }

// activeKey returns the sorted set of claimed jobs, scored by claim time: {prefix}active:{name}
func (b *Backend) activeKey(name string) string { return b.prefix + "active:" + name }

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
