/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package router

import "sync"

// workerPool serializes work per key while keeping different keys fully
// parallel. Enqueue never blocks; each key drains its queue in arrival
// order on a goroutine that exits when the queue is empty.
type workerPool struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
	wg     sync.WaitGroup
}

type keyQueue struct {
	pending []func()
	running bool
}

func newWorkerPool() *workerPool {
	return &workerPool{queues: make(map[string]*keyQueue)}
}

func (p *workerPool) enqueue(key string, task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.queues[key]
	if !ok {
		q = &keyQueue{}
		p.queues[key] = q
	}

	q.pending = append(q.pending, task)

	if !q.running {
		q.running = true

		p.wg.Add(1)

		go p.drain(q)
	}
}

func (p *workerPool) drain(q *keyQueue) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			p.mu.Unlock()

			return
		}

		task := q.pending[0]
		q.pending = q.pending[1:]
		p.mu.Unlock()

		task()
	}
}

// wait blocks until every queue has drained. New work enqueued while
// waiting is waited for as well.
func (p *workerPool) wait() {
	p.wg.Wait()
}
