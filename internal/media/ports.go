package media

import (
	"errors"
	"sync"
)

var ErrNoPortsAvailable = errors.New("no rtp ports available")

// PortAllocator hands out even RTP ports from a fixed range.
type PortAllocator struct {
	mu    sync.Mutex
	min   int
	max   int
	next  int
	inUse map[int]bool
}

func NewPortAllocator(min, max int) *PortAllocator {
	if min%2 != 0 {
		min++
	}
	return &PortAllocator{min: min, max: max, next: min, inUse: make(map[int]bool)}
}

func (a *PortAllocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := (a.max - a.min) / 2
	for i := 0; i <= span; i++ {
		port := a.next
		a.next += 2
		if a.next > a.max {
			a.next = a.min
		}
		if port <= a.max && !a.inUse[port] {
			a.inUse[port] = true
			return port, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
