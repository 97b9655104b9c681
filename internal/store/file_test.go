package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-chat-client/internal/types"
)

func TestTranscriptArchiveRoundTrip(t *testing.T) {
	a := NewTranscriptArchive(t.TempDir())
	msgs := []types.Message{
		{ID: 1, Role: types.RoleUser, Content: "hello"},
		{ID: 2, Role: types.RoleAssistant, Content: "hi there"},
	}
	require.NoError(t, a.Write("s_1", msgs))

	got, err := a.Read("s_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, types.RoleAssistant, got[1].Role)
}

func TestTranscriptArchiveMissing(t *testing.T) {
	a := NewTranscriptArchive(t.TempDir())
	got, err := a.Read("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTranscriptArchiveRequiresSessionID(t *testing.T) {
	a := NewTranscriptArchive(t.TempDir())
	assert.Error(t, a.Write("", nil))
}
