// Package engine runs diagram executions under a wall-clock deadline. The
// Coordinator races one worker against its deadline handle, Normalize maps
// the resolution to an ExecutionResult, and Engine wraps both with workdir
// ownership, persistence, log streaming, artifact upload and async
// submission.
package engine
