// Package eligibility decides whether a tenant may authenticate right now.
//
// The decision is a state machine over the tenant's subscription status,
// followed by a billing check for paid tiers and a usage check against the
// tenant's limits. It is re-evaluated on every login and never cached.
//
// Remote billing lookups follow an explicit [OnUnavailable] policy. Usage
// lookups that fail are logged and allowed, since usage is a soft business
// limit rather than a security boundary.
package eligibility
