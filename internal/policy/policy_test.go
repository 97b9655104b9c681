package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Contains(t, p.TriggerPhrases, "callback")
	assert.Contains(t, p.TriggerPhrases, "speak to someone")
	assert.Equal(t, "Email and callback scheduling canceled.", p.CancelNotice)
	assert.Equal(t, 15*time.Millisecond, p.RevealInterval())
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := "cancel_notice: \"Offer withdrawn.\"\nreveal_interval_ms: 1\ntrigger_phrases:\n  - ring me\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Offer withdrawn.", p.CancelNotice)
	assert.Equal(t, []string{"ring me"}, p.TriggerPhrases)
	assert.Equal(t, time.Millisecond, p.RevealInterval())
	// untouched fields keep defaults
	assert.Equal(t, Default().FallbackReply, p.FallbackReply)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t-bad"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
