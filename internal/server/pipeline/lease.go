package pipeline

import "sync"

// leases is the in-process half of the per-asset in-flight guard; the status
// compare-and-set in the database is the other half.
type leases struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLeases() *leases {
	return &leases{held: make(map[string]struct{})}
}

func (l *leases) acquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true
}

func (l *leases) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

func assetKey(assetID string) string { return "asset:" + assetID }
func ocrKey(issueID string) string   { return "ocr:" + issueID }
func thumbKey(issueID string) string { return "thumb:" + issueID }
