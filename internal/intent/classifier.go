// internal/intent/classifier.go
package intent

import "sync"

// Mode is the coarse UI mode derived from user-intent events.
type Mode int

const (
	ModeDefault Mode = iota
	ModeSwap
	ModeMusic
)

func (m Mode) String() string {
	switch m {
	case ModeSwap:
		return "swap"
	case ModeMusic:
		return "music"
	default:
		return "default"
	}
}

// Known intent labels.
const (
	LabelSwap  = "SWAP_INTENT"
	LabelMusic = "MUSIC_INTENT"
)

var labels = map[string]Mode{
	LabelSwap:  ModeSwap,
	LabelMusic: ModeMusic,
}

// Classifier holds the current mode. Any known label replaces the mode;
// unknown labels are ignored.
type Classifier struct {
	mu   sync.RWMutex
	mode Mode
}

// NewClassifier returns a Classifier in ModeDefault.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify applies label and returns the resulting mode.
func (c *Classifier) Classify(label string) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := labels[label]; ok {
		c.mode = m
	}
	return c.mode
}

// Known reports whether label maps to a mode.
func Known(label string) bool {
	_, ok := labels[label]
	return ok
}

// Mode returns the current mode.
func (c *Classifier) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}
