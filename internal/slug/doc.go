// Package slug is the registry of content slugs for the cheat-sheet site.
//
// The set is closed: every page the site knows about is listed in
// registry.go, and nothing is added or removed at runtime. Consumers
// validate names with [IsValid] (or [Parse] when they need a reason) and
// enumerate the set with [All].
//
// All functions are safe for concurrent use. The backing data is built
// once during package initialization and never written again.
package slug
