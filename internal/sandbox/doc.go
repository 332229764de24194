// Package sandbox defines the isolation units that run diagram-generation
// payloads. A Runner starts a Worker for one payload in a workdir; the worker
// completes on its own or is stopped through its Target methods. Two runners
// are provided: ProcessRunner (an OS subprocess in its own process group,
// forcibly killable) and ThreadRunner (a goja VM on a goroutine, cooperative
// interrupt only).
package sandbox
