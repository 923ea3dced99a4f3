// Package policy owns the active detection and risk policy.
//
// A Store holds one immutable Snapshot behind an atomic pointer. Readers take
// a snapshot once per request and use it for detection, scoring, decision and
// masking, so a concurrent reload or weight update is either fully visible to
// a request or not at all. Writers are serialised and build a complete new
// snapshot before publishing it; a rejected update leaves the previous
// snapshot in place.
package policy
