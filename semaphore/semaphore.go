/*
A counted semaphore used to bound outstanding work, built on a condition
variable so waiters suspend instead of spinning.
*/
package semaphore

import (
	"sync"
)

type Semaphore struct {
	cond  *sync.Cond
	lock  sync.Mutex
	count int
	max   int
}

// New returns a semaphore admitting up to max concurrent holders.
func New(max int) *Semaphore {
	s := &Semaphore{max: max}
	s.cond = sync.NewCond(&s.lock)
	return s
}

// Acquire blocks until a slot is free and takes it.
func (sm *Semaphore) Acquire() {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	for sm.count >= sm.max {
		sm.cond.Wait()
	}
	sm.count++
}

// Release frees a slot taken by Acquire.
func (sm *Semaphore) Release() {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	sm.count--
	sm.cond.Signal()
}

// Outstanding returns the number of currently held slots.
func (sm *Semaphore) Outstanding() int {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.count
}
