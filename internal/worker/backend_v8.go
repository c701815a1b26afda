//go:build v8

package worker

import (
	"github.com/gahr/scgi-go/internal/sandbox"
	"github.com/gahr/scgi-go/internal/sandbox/v8engine"
)

func newEngine(memoryLimitMB int) (sandbox.Engine, error) {
	return v8engine.New(memoryLimitMB)
}
