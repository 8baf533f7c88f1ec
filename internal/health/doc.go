// Package health provides composable probes and the liveness and readiness
// handlers served on the admin listener.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static);
// [CheckFunc] adapts a function and [Named] prefixes failures with the
// probe's name. [ShutdownGate] fails readiness during drain so load
// balancers stop routing before in-flight requests finish.
package health
