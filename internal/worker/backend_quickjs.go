//go:build !v8

package worker

import (
	"github.com/gahr/scgi-go/internal/sandbox"
	"github.com/gahr/scgi-go/internal/sandbox/quickjs"
)

func newEngine(memoryLimitMB int) (sandbox.Engine, error) {
	return quickjs.New(memoryLimitMB)
}
