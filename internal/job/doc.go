// Package job defines the persisted data model of the publishing engine:
// jobs, media rotation state, and the aggregate queue state document.
//
// The package is a leaf. Mutation rules live in internal/queue; this
// package only knows how the data looks and how a freshly loaded state
// is normalized after a restart.
package job
