// Package gateway maintains the bot's connection to the Discord gateway.
//
// A Client owns one logical connection at a time and runs it through a
// checked state machine:
//
//	Idle -> Connecting -> Ready
//	Idle -> Connecting -> Resuming -> Ready
//	Connecting | Resuming | Ready -> Idle
//
// On every disconnect the client decides from the close code whether to
// resume the previous session, identify afresh, or (after MaxReconnects
// consecutive failures) give up until Restart is called.
//
// Each connection attempt gets its own generation number and context.
// Closing cancels the context, which aborts every wait tied to the attempt
// (hello, ready, identify delay, heartbeat jitter, rate-limit sleeps), and
// late callbacks from an older generation are ignored.
//
// Outbound frames other than heartbeat, identify and resume pass through a
// single-slot queue and a fixed-window budget (115 frames per 60 seconds by
// default).
package gateway
