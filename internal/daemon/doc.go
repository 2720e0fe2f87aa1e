// Package daemon hosts the long-running platterd process: the reconcile
// loop, the HTTP control API with its SSE and websocket push channels, and
// the udev sound hotplug monitor. A file lock keeps the daemon single
// instance per data directory.
package daemon
