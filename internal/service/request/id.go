package request

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out request ids unique for the life of the process.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-req-%d", sessionId, n)
}
