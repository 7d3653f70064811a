package actions

import "time"

// sliding holds admission timestamps for one (host, action) key, oldest
// first.
type sliding struct {
	points []time.Time
}

// prune drops points older than keep, measured from now.
func (s *sliding) prune(now time.Time, keep time.Duration) {
	cut := now.Add(-keep)
	i := 0
	for ; i < len(s.points); i++ {
		if s.points[i].After(cut) {
			break
		}
	}
	if i > 0 {
		s.points = s.points[i:]
	}
}

func (s *sliding) add(ts time.Time) { s.points = append(s.points, ts) }
func (s *sliding) count() int       { return len(s.points) }

func (s *sliding) newest() time.Time {
	if len(s.points) == 0 {
		return time.Time{}
	}
	return s.points[len(s.points)-1]
}

// rateWindow admits at most limit events per key within a trailing window.
// Callers hold the dispatcher lock.
type rateWindow struct {
	limit   int
	length  time.Duration
	maxKeys int
	keys    map[string]*sliding
}

func newRateWindow(limit int, length time.Duration, maxKeys int) *rateWindow {
	return &rateWindow{limit: limit, length: length, maxKeys: maxKeys, keys: map[string]*sliding{}}
}

// admit prunes the key's window and records now if it is below the limit.
func (w *rateWindow) admit(key string, now time.Time) bool {
	s, ok := w.keys[key]
	if !ok {
		s = &sliding{}
	}
	s.prune(now, w.length)
	if s.count() >= w.limit {
		return false
	}
	s.add(now)
	if !ok {
		w.keys[key] = s
		w.bound(now)
	}
	return true
}

// bound keeps the map within maxKeys: first every key whose window expired
// goes, then the keys with the oldest activity.
func (w *rateWindow) bound(now time.Time) {
	if w.maxKeys <= 0 || len(w.keys) <= w.maxKeys {
		return
	}
	for k, s := range w.keys {
		s.prune(now, w.length)
		if s.count() == 0 {
			delete(w.keys, k)
		}
	}
	for len(w.keys) > w.maxKeys {
		var oldest string
		var at time.Time
		for k, s := range w.keys {
			if oldest == "" || s.newest().Before(at) {
				oldest, at = k, s.newest()
			}
		}
		delete(w.keys, oldest)
	}
}

func (w *rateWindow) count(key string, now time.Time) int {
	s, ok := w.keys[key]
	if !ok {
		return 0
	}
	s.prune(now, w.length)
	return s.count()
}
