// Package deadline provides the platform-abstracted timer used to bound
// diagram executions. Two interchangeable strategies satisfy the same
// Primitive contract: Interrupt delivers an in-band interrupt to the running
// worker from a process-wide interval timer (Linux only), and Watchdog parks a
// timer per execution that terminates the worker's isolation unit when it
// expires (every platform). Detect selects one at process start.
package deadline
