// Package store persists engine state.
//
// It has two halves:
//   - StateFile: crash-safe save/load of the full queue state document
//     (write-to-temp then rename, versioned schema).
//   - Store: an optional audit log of publish attempts, with file (JSONL)
//     and sqlite drivers.
package store
