/*
Package observability turns engine lifecycle events into Prometheus metrics
and structured log lines.

Both are exposed as domain.LifecycleHooks, so they can be installed together
(see domain.CombineHooks) with any other hook set, such as the HTTP event
streams.
*/
package observability
