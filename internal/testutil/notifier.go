package testutil

import (
	"context"
	"sync"

	"bazaar/internal/models"
	"bazaar/internal/services/notification"
)

var _ notification.ChatNotifier = (*RecordingNotifier)(nil)

// RecordingNotifier keeps every message it is asked to send.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	Err      error
}

func (n *RecordingNotifier) Notify(_ context.Context, msg models.ChatMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *RecordingNotifier) Messages() []models.ChatMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ChatMessage(nil), n.messages...)
}

// MemoryLimiter counts failures in memory without expiry.
type MemoryLimiter struct {
	mu     sync.Mutex
	Max    int
	counts map[string]int64
}

func NewMemoryLimiter(max int) *MemoryLimiter {
	return &MemoryLimiter{Max: max, counts: map[string]int64{}}
}

func (l *MemoryLimiter) Blocked(_ context.Context, subject string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Max > 0 && l.counts[subject] >= int64(l.Max), nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, subject string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[subject]++
	return l.counts[subject], nil
}

func (l *MemoryLimiter) Reset(_ context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, subject)
	return nil
}
