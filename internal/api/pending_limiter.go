package api

import (
	"sync"
	"time"
)

// PendingIntentLimiter caps the number of concurrent unpaid payment intents
// per IP address. Without it a client could mint invoices without bound and
// pay for none of them.
type PendingIntentLimiter struct {
	mu          sync.RWMutex
	maxPending  int
	pendingByIP map[string]map[string]time.Time // IP -> intentID -> tracked time
	intentToIP  map[string]string               // intentID -> IP (reverse lookup)
}

// NewPendingIntentLimiter creates a limiter allowing maxPending unpaid
// intents per IP.
func NewPendingIntentLimiter(maxPending int) *PendingIntentLimiter {
	return &PendingIntentLimiter{
		maxPending:  maxPending,
		pendingByIP: make(map[string]map[string]time.Time),
		intentToIP:  make(map[string]string),
	}
}

// CanCreate reports whether the IP is under its unpaid-intent limit.
func (l *PendingIntentLimiter) CanCreate(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pendingByIP[ip]) < l.maxPending
}

// PendingCount returns the number of unpaid intents tracked for an IP.
func (l *PendingIntentLimiter) PendingCount(ip string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pendingByIP[ip])
}

// MaxPending returns the configured per-IP limit.
func (l *PendingIntentLimiter) MaxPending() int {
	return l.maxPending
}

// TrackIntent records a new unpaid intent for an IP.
func (l *PendingIntentLimiter) TrackIntent(ip, intentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pendingByIP[ip] == nil {
		l.pendingByIP[ip] = make(map[string]time.Time)
	}
	l.pendingByIP[ip][intentID] = time.Now()
	l.intentToIP[intentID] = ip
}

// OnPaymentReceived drops an intent from tracking. This is the settlement
// callback wired into the invoice manager.
func (l *PendingIntentLimiter) OnPaymentReceived(intentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ip, ok := l.intentToIP[intentID]
	if !ok {
		return // not tracked, maybe already cleaned up
	}

	delete(l.intentToIP, intentID)
	if intents := l.pendingByIP[ip]; intents != nil {
		delete(intents, intentID)
		if len(intents) == 0 {
			delete(l.pendingByIP, ip)
		}
	}
}

// CleanupExpired removes tracked intents older than maxAge and returns how
// many were dropped. Meant to run periodically; intents whose invoices
// expired unpaid should not pin the limit forever.
func (l *PendingIntentLimiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for ip, intents := range l.pendingByIP {
		for intentID, trackedAt := range intents {
			if trackedAt.Before(cutoff) {
				delete(intents, intentID)
				delete(l.intentToIP, intentID)
				removed++
			}
		}
		if len(intents) == 0 {
			delete(l.pendingByIP, ip)
		}
	}

	return removed
}
