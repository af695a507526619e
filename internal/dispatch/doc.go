// Package dispatch runs one preprocessing job end to end.
//
// A run walks a fixed sequence of states:
//
//	START → PARSED → VALIDATED → RESOLVED → CONTAINER_OPEN → INVOKED → SUCCESS
//
// and moves to FAILED from whichever state an error occurs in. The job file
// is parsed and its preamble validated before the registry is consulted.
// The selected plugin is loaded, but not invoked, before the output container
// is created, so a missing or broken plugin never leaves a container behind.
// Once the container exists it is closed on every exit path, including a
// plugin panic, which is not recovered.
//
// Error handling:
//   - Job decode or preamble errors → job package sentinels
//   - Plugin missing, ambiguous or unloadable → plugin package sentinels
//   - Container create or write failures → container.ErrIO
//   - Plugin reports a conversion failure → plugin.ErrConversion
//   - Any other plugin error → ErrPluginInternal, wrapping the cause
//
// No timeout is applied to plugins and runs are never retried.
package dispatch
