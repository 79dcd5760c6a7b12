// Package fetch defines the core types shared by the fetch pipeline: the
// request accepted from callers, the immutable per-attempt session profile,
// the closed set of outcomes, and the interfaces the orchestrator drives
// (browser launchers and sessions, detectors, simulators, clocks, stores and
// notifiers).
package fetch
