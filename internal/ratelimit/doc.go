// Package ratelimit provides a fixed-window rate limiter for the HTTP
// layer. Counters live behind the CounterStore interface; the default
// MemoryStore keeps them in-process, and a deployment that needs shared
// limits across replicas can back the same limiter with a distributed
// store instead.
package ratelimit
