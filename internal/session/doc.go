// Package session holds the single account session of the service.
//
// The Service moves between three states:
//
//	Anonymous --Login--> Authenticated
//	Anonymous --Login--> PendingSecondFactor --SubmitCode--> Authenticated
//	any --Logout--> Anonymous
//
// The current state is an immutable value behind an atomic pointer, so reads
// never wait for a transition. Transitions are serialized by a mutex. Every
// upstream call, read or transition, runs on a bounded worker pool under a
// context that ignores the caller's cancellation and carries a per-call
// deadline instead.
//
// A read that started before Logout may still finish using the released
// credentials, or fail. It never blocks the transition.
package session
