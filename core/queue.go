package core

import "sync"

// promptQueue is the FIFO of pending follow-up prompts for one session.
type promptQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *promptQueue) push(prompt string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, prompt)
}

func (q *promptQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

func (q *promptQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
