// Package integration provides end-to-end tests of the sync daemon against a
// fake cloud service. They cover fresh installs, incremental pulls, snapshot
// restores, integrity recovery and pushing of local events.
package integration
