// Package thought generates Max's autonomous inner monologue: short
// categorized, scored observations produced on a timer from live
// sensor state, kept in a bounded buffer for the speech scheduler.
package thought

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category classifies a thought and carries a default speakability.
type Category string

const (
	CategoryObservation   Category = "observation"
	CategoryAnalysis      Category = "analysis"
	CategoryOpinion       Category = "opinion"
	CategoryPlan          Category = "plan"
	CategoryCuriosity     Category = "curiosity"
	CategoryEnvironmental Category = "environmental"
	CategoryReflection    Category = "reflection"
	CategoryAlert         Category = "alert"
)

// DefaultCategory is used when the model emits an unknown category.
const DefaultCategory = CategoryObservation

// categoryWeights are the default speak scores per category, used when
// the model's score is missing or unparseable.
var categoryWeights = map[Category]float64{
	CategoryObservation:   0.7,
	CategoryAnalysis:      0.4,
	CategoryOpinion:       0.8,
	CategoryPlan:          0.5,
	CategoryCuriosity:     0.9,
	CategoryEnvironmental: 0.6,
	CategoryReflection:    0.3,
	CategoryAlert:         1.0,
}

// Weight returns a category's default speak score.
func Weight(c Category) float64 {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return categoryWeights[DefaultCategory]
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	_, ok := categoryWeights[c]
	return ok
}

// Thought is one autonomous observation.
type Thought struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   Category  `json:"category"`
	SpeakScore float64   `json:"speak_score"`
	CreatedAt  time.Time `json:"created_at"`
	Spoken     bool      `json:"spoken"`
}

// NewThought builds a thought, clamping the score into [0, 1].
func NewThought(content string, category Category, score float64) Thought {
	if !ValidCategory(category) {
		category = DefaultCategory
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return Thought{
		ID:         uuid.NewString(),
		Content:    content,
		Category:   category,
		SpeakScore: score,
		CreatedAt:  time.Now(),
	}
}

// BufferCapacity bounds the thought buffer; the oldest entries are
// evicted on overflow.
const BufferCapacity = 100

// Buffer is a shared, bounded FIFO of thoughts. The engine appends;
// the speech scheduler flips spoken flags. Both through this lock.
type Buffer struct {
	mu       sync.Mutex
	thoughts []Thought
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends a thought, evicting the oldest entries past capacity.
func (b *Buffer) Add(t Thought) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.thoughts = append(b.thoughts, t)
	if len(b.thoughts) > BufferCapacity {
		b.thoughts = b.thoughts[len(b.thoughts)-BufferCapacity:]
	}
}

// Len returns the current number of buffered thoughts.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.thoughts)
}

// Recent returns up to n thoughts, newest last.
func (b *Buffer) Recent(n int) []Thought {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.thoughts) {
		n = len(b.thoughts)
	}
	out := make([]Thought, n)
	copy(out, b.thoughts[len(b.thoughts)-n:])
	return out
}

// Speakable returns unspoken thoughts no older than window whose score
// exceeds the threshold, newest last.
func (b *Buffer) Speakable(window time.Duration, threshold float64) []Thought {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []Thought
	for _, t := range b.thoughts {
		if t.Spoken || t.SpeakScore <= threshold || t.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// MarkSpoken flips the spoken flag for the thought with the given ID.
// Marking an already-spoken or evicted thought is a no-op.
func (b *Buffer) MarkSpoken(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.thoughts {
		if b.thoughts[i].ID == id {
			b.thoughts[i].Spoken = true
			return
		}
	}
}
