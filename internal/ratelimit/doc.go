// Package ratelimit throttles slug API callers per client address.
//
// The limiter is in-memory and local to one process. It blunts a single
// address hammering lookups; distributed floods belong to the edge.
package ratelimit
