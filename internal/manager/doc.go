// Package manager turns blocking token-by-token generation into cancellable,
// pollable background tasks. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; New applies defaults.
//   - types.go: Status and the Task record.
//   - errors.go: error types and helpers (IsInvalidID, IsNotQueued).
//   - ops.go: control surface (Submit, SetTerminator, SetSampler, Start,
//     Cancel, Poll, Shutdown).
//   - worker.go: the per-task generation loop.
//   - admission.go: optional cap on concurrently decoding tasks.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus instrumentation.
//   - status_report.go: Status summary.
//
// Locking: one mutex guards the task map and every Task's mutable fields.
// Workers call into the engine without holding it and take it only to publish
// progress, so a poll always observes a consistent snapshot.
//
// Lifecycle: queued -> running -> finished | error | interrupted. The first
// Poll that observes a terminal status retires the task and frees its
// decoding context; the id is invalid afterwards.
package manager
