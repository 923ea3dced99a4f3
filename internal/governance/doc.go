// Package governance holds runtime safety controls for calls that leave the
// process. Today that is a circuit breaker per detector provider, so a
// failing model service is skipped for a cooldown instead of costing every
// request its full timeout.
package governance
