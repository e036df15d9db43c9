// Package resilience implements a circuit breaker guarding the output
// step's per-target sends: repeated send failures to one downstream
// target trip that target's breaker open so the background sender stops
// retrying it on every iteration, and half-opens it again after a
// timeout to probe recovery.
package resilience
