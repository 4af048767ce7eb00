// Package executor runs a task's pipeline script as a child process and turns
// its stdout into a stream of reactions.
//
// The script is written into the task's working directory and its path is
// passed as the last argument of the configured command. The child inherits
// the worker's environment plus task variables, with every
// <shared>/plugins/<name>/site-packages directory appended to the module
// search path variable (PYTHONPATH by default).
//
// Reactions are delivered to the registered handlers one at a time, in the
// order the script emitted them. Handlers run on the reading goroutine, so a
// slow handler slows the stream down but never reorders it.
//
// Termination:
//   - Kill sends SIGTERM to the child's process group
//   - After the grace period (5s by default) SIGKILL follows if it is still running
//   - A child killed by a signal reports 128+signal as its exit status
//   - Cancelling the context passed to Execute has the same effect as Kill
//
// Failure to start the child is returned as an error. It is never reported as
// a reaction.
package executor
