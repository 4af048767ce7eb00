// Package worker implements the RPC surface a master drives: executeTask,
// killTask and killAll.
//
// executeTask is synchronous. The call holds one slot of the RPC server's
// pool for as long as the script runs, which bounds how many tasks a worker
// executes at once. killTask and killAll are not pooled, so a saturated
// worker can still be told to stop.
//
// Every error returned to the master is a *cluster.ClusterException.
package worker
