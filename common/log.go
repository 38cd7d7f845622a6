package common

import "go.uber.org/zap"

// logger is the process-wide structured logger used by the mount table and
// both engines. It defaults to a no-op logger so importing bfs as a library
// never prints anything unless the host opts in via SetLogger.
var logger *zap.Logger = zap.NewNop()

// SetLogger installs the structured logger bfs uses for diagnostic output
// (engine mounts, superblock/BPB rejection, the read-only downgrade,
// mount-table add/remove and lookup misses). Hosts embedding
// bfs in a freestanding environment should simply never call this, leaving
// logging compiled out to a no-op.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Log returns the currently installed logger.
func Log() *zap.Logger {
	return logger
}
