package parser

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamePool(t *testing.T) {
	p := NewNamePool()

	a := p.Intern("c617")
	b := p.Intern("c617")
	assert.Equal(t, a, b)
	p.Intern("r12")
	assert.Equal(t, 2, p.Len())

	p.Clear()
	assert.Equal(t, 0, p.Len())
}

func TestNamePool_Concurrent(t *testing.T) {
	p := NewNamePool()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.Intern(fmt.Sprintf("test_%d", i))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, p.Len())
}
