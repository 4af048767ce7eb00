package cluster

import (
	"errors"
	"fmt"
)

// Exception codes.
const (
	CodeUnknown       = 0
	CodeDuplicateTask = 1
	CodeExecution     = 2
	CodeKill          = 3
	CodeBadRequest    = 4
	CodeUnknownMethod = 5
)

// ClusterException is the only error that crosses the RPC boundary. It carries
// a human readable message and never an internal type or stack trace.
type ClusterException struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ClusterException) Error() string {
	return fmt.Sprintf("cluster exception %d: %s", e.Code, e.Message)
}

// NewException builds a ClusterException with a formatted message.
func NewException(code int, format string, args ...any) *ClusterException {
	return &ClusterException{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap normalises err into a ClusterException. An error that already is (or
// wraps) a ClusterException is returned as that exception.
func Wrap(code int, err error) *ClusterException {
	if err == nil {
		return nil
	}
	var ce *ClusterException
	if errors.As(err, &ce) {
		return ce
	}
	return &ClusterException{Code: code, Message: err.Error()}
}
