// Package buffer accumulates signatures of messages the detector could not
// place, until a signature recurs often enough to be worth retraining on.
package buffer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/metrics"
	"github.com/viniciushammett/go-log-relearn/internal/model"
)

// ExampleLimit bounds the stored example per signature, in characters.
const ExampleLimit = 500

type Store interface {
	LoadBuffer() (model.BufferState, error)
	SaveBuffer(model.BufferState) error
}

type Entry struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
	Example   string `json:"example"`
}

type Stats struct {
	TotalTracked int     `json:"total_tracked"`
	Top          []Entry `json:"top"`
}

type Buffer struct {
	log     *logger.Logger
	store   Store
	trigger int
	now     func() time.Time

	mu       sync.Mutex
	counts   map[string]int
	examples map[string]string
}

// New restores persisted state; a missing or unreadable document starts an
// empty buffer. A nil store keeps everything in memory.
func New(log *logger.Logger, st Store, triggerCount int) *Buffer {
	if triggerCount < 1 {
		triggerCount = 1
	}
	b := &Buffer{
		log:      log,
		store:    st,
		trigger:  triggerCount,
		now:      time.Now,
		counts:   map[string]int{},
		examples: map[string]string{},
	}
	if st == nil {
		return b
	}
	state, err := st.LoadBuffer()
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("pattern buffer unreadable, starting empty")
	default:
		for sig, c := range state.Counts {
			if c > 0 {
				b.counts[sig] = c
				b.examples[sig] = state.Examples[sig]
			}
		}
	}
	metrics.BufferTracked.Set(float64(len(b.counts)))
	return b
}

// Trigger is the count at which a signature becomes ready.
func (b *Buffer) Trigger() int { return b.trigger }

// Add counts one more occurrence of sig and returns the new count. Only the
// first example seen for a signature is kept.
func (b *Buffer) Add(sig, example string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts[sig]++
	if _, ok := b.examples[sig]; !ok {
		b.examples[sig] = truncate(example, ExampleLimit)
	}
	b.persist()
	return b.counts[sig]
}

// ReadySignatures lists, sorted, every signature at or above the trigger.
func (b *Buffer) ReadySignatures() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready()
}

// PopReady removes the ready signatures and returns them.
func (b *Buffer) PopReady() []string {
	entries := b.PopReadyEntries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Signature
	}
	return out
}

// PopReadyEntries is PopReady returning counts and examples too, so the
// caller can feed the examples to a refit.
func (b *Buffer) PopReadyEntries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	sigs := b.ready()
	if len(sigs) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, Entry{Signature: sig, Count: b.counts[sig], Example: b.examples[sig]})
		delete(b.counts, sig)
		delete(b.examples, sig)
	}
	b.persist()
	return out
}

// Stats returns the number of tracked signatures and the topN by count.
func (b *Buffer) Stats(topN int) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]Entry, 0, len(b.counts))
	for sig, c := range b.counts {
		all = append(all, Entry{Signature: sig, Count: c, Example: b.examples[sig]})
	}
	sortEntries(all)
	if topN >= 0 && len(all) > topN {
		all = all[:topN]
	}
	return Stats{TotalTracked: len(b.counts), Top: all}
}

// Entries returns every tracked entry, highest count first.
func (b *Buffer) Entries() []Entry { return b.Stats(-1).Top }

func (b *Buffer) ready() []string {
	var out []string
	for sig, c := range b.counts {
		if c >= b.trigger {
			out = append(out, sig)
		}
	}
	sort.Strings(out)
	return out
}

// persist must be called with mu held. Failures are logged; the in-memory
// state stays authoritative and the next mutation retries the write.
func (b *Buffer) persist() {
	metrics.BufferTracked.Set(float64(len(b.counts)))
	if b.store == nil {
		return
	}
	state := model.BufferState{
		Counts:          make(map[string]int, len(b.counts)),
		Examples:        make(map[string]string, len(b.examples)),
		LastPersistedAt: b.now().Unix(),
	}
	for k, v := range b.counts {
		state.Counts[k] = v
	}
	for k, v := range b.examples {
		state.Examples[k] = v
	}
	if err := b.store.SaveBuffer(state); err != nil {
		b.log.Error().Err(err).Int("tracked", len(b.counts)).Msg("persist pattern buffer")
	}
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Count != es[j].Count {
			return es[i].Count > es[j].Count
		}
		return es[i].Signature < es[j].Signature
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
