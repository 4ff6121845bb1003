// Package domain defines the entities and lifecycle state for task sessions.
//
// A TaskSession represents one unit of agent work, from start to a terminal
// status. Every change to a session is recorded as an immutable Event in an
// append-only, version-ordered log.
//
// # Session Lifecycle
//
//	in_progress -> blocked -> in_progress   (report_block / resolve_block)
//	in_progress | blocked -> paused         (pause)
//	paused -> in_progress                   (resume)
//	in_progress | blocked | paused -> completed | cancelled (terminal)
//
// Completed and cancelled are terminal: no transition leaves them.
package domain
