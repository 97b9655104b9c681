package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"helpdesk-chat-client/internal/types"
)

// TranscriptArchive persists finished conversation logs as JSON files, one
// per session.
type TranscriptArchive struct {
	dir string
}

type transcript struct {
	SessionID string          `json:"sessionId"`
	SavedAt   time.Time       `json:"savedAt"`
	Messages  []types.Message `json:"messages"`
}

func NewTranscriptArchive(dir string) *TranscriptArchive {
	return &TranscriptArchive{dir: dir}
}

// Write stores the transcript atomically (tmp file + rename) so a crash
// mid-write never leaves a torn archive behind.
func (a *TranscriptArchive) Write(sessionID string, msgs []types.Message) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(transcript{SessionID: sessionID, SavedAt: time.Now(), Messages: msgs}, "", "  ")
	if err != nil {
		return err
	}
	path := a.path(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads an archived transcript; a missing archive returns nil, nil.
func (a *TranscriptArchive) Read(sessionID string) ([]types.Message, error) {
	b, err := os.ReadFile(a.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var t transcript
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return t.Messages, nil
}

func (a *TranscriptArchive) path(sessionID string) string {
	return filepath.Join(a.dir, sessionID+".json")
}
