package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the conversation strings and tunables the session core runs
// on. Everything has a baked-in default so the service comes up without a
// policy file; a YAML file overrides individual fields.
type Policy struct {
	// System instruction handed to the completion fallback.
	System string `yaml:"system"`
	// Reply of last resort when every backend path failed.
	FallbackReply string `yaml:"fallback_reply"`
	// Fixed notice appended when the user cancels a scheduling offer.
	CancelNotice string `yaml:"cancel_notice"`
	// Placeholder content for an uploaded audio message.
	UploadPlaceholder string `yaml:"upload_placeholder"`
	// Phrases in the user's own wording that license a scheduling offer.
	TriggerPhrases []string `yaml:"trigger_phrases"`
	// Milliseconds between reveal ticks (one character each).
	RevealIntervalMS int `yaml:"reveal_interval_ms"`
}

func Default() Policy {
	return Policy{
		System:            "You are a helpful customer service assistant. Be concise and friendly in your responses.",
		FallbackReply:     "I'm sorry, I couldn't process your request at the moment. Please try again later.",
		CancelNotice:      "Email and callback scheduling canceled.",
		UploadPlaceholder: "\U0001F3A4 Audio message uploaded",
		TriggerPhrases: []string{
			"schedule",
			"callback",
			"call me",
			"contact me",
			"talk to agent",
			"speak to someone",
		},
		RevealIntervalMS: 15,
	}
}

// Load reads a policy file over the defaults. A missing file is not an
// error; a malformed one is.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if len(p.TriggerPhrases) == 0 {
		p.TriggerPhrases = Default().TriggerPhrases
	}
	if p.RevealIntervalMS <= 0 {
		p.RevealIntervalMS = Default().RevealIntervalMS
	}
	return p, nil
}

func (p Policy) RevealInterval() time.Duration {
	return time.Duration(p.RevealIntervalMS) * time.Millisecond
}
