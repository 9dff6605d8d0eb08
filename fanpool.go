// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co, chowyu08, muXxer

package fixture

import (
	"sync"
	"sync/atomic"

	xh "github.com/cespare/xxhash/v2"
)

// taskChan is a channel for incoming task functions.
type taskChan chan func()

// FanPool is a fixed-sized fan-style worker pool with multiple working
// 'columns'. Each column is a queue processed by a single goroutine, and every
// task for a given client id lands in the same column, so tasks for one client
// run in the order they were enqueued.
type FanPool struct {
	queue    []taskChan
	wg       sync.WaitGroup
	capacity uint64
	perChan  uint64
	mu       sync.Mutex
}

// NewFanPool returns a new instance of FanPool. fanSize controls the number of
// columns of the fan, whereas queueSize controls the size of each column's queue.
func NewFanPool(fanSize, queueSize uint64) *FanPool {
	pool := &FanPool{
		capacity: fanSize,
		perChan:  queueSize,
		queue:    make([]taskChan, fanSize),
	}

	pool.fillWorkers(fanSize)

	return pool
}

// fillWorkers adds columns to the fan pool with an associated worker goroutine.
func (p *FanPool) fillWorkers(n uint64) {
	for i := uint64(0); i < n; i++ {
		p.queue[i] = make(taskChan, p.perChan)
		p.wg.Add(1)
		go p.worker(p.queue[i])
	}
}

// worker processes tasks from a single queue until it is closed.
func (p *FanPool) worker(ch taskChan) {
	defer p.wg.Done()
	for task := range ch {
		task()
	}
}

// column returns the queue index for a client id.
func (p *FanPool) column(id string) uint64 {
	return xh.Sum64String(id) % p.Size()
}

// enqueueAt adds a task to a specific column. It returns false if the pool
// has been closed.
func (p *FanPool) enqueueAt(i uint64, task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Size() == 0 {
		return false
	}

	p.queue[i] <- task
	return true
}

// Enqueue adds a new task to the column owned by a client id. Tasks enqueued
// after Close are dropped.
func (p *FanPool) Enqueue(id string, task func()) {
	if p.Size() == 0 {
		return
	}

	p.enqueueAt(p.column(id), task)
}

// Flush blocks until every task enqueued for a client id before the call has run.
func (p *FanPool) Flush(id string) {
	if p.Size() == 0 {
		return
	}

	p.flushColumn(p.column(id))
}

// FlushAll blocks until every task enqueued before the call has run.
func (p *FanPool) FlushAll() {
	for i := uint64(0); i < p.Size(); i++ {
		p.flushColumn(i)
	}
}

// flushColumn blocks until the tasks queued on a column have been processed.
func (p *FanPool) flushColumn(i uint64) {
	done := make(chan struct{})
	if p.enqueueAt(i, func() { close(done) }) {
		<-done
	}
}

// Wait blocks until all the workers in the pool have completed.
func (p *FanPool) Wait() {
	p.wg.Wait()
}

// Close issues a shutdown signal to the workers. Tasks already queued are
// still processed; use Wait to block until they are.
func (p *FanPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < int(p.Size()); i++ {
		if p.queue[i] != nil {
			close(p.queue[i])
		}
	}
	p.queue = nil
	atomic.StoreUint64(&p.capacity, 0)
}

// Size returns the current number of workers in the pool.
func (p *FanPool) Size() uint64 {
	return atomic.LoadUint64(&p.capacity)
}
