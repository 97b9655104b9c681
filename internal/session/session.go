package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"helpdesk-chat-client/internal/policy"
	"helpdesk-chat-client/internal/store"
	"helpdesk-chat-client/internal/types"
)

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrBusy           = errors.New("a previous message is still being processed")
	ErrNotAudio       = errors.New("only audio files can be uploaded")
	ErrNoPendingOffer = errors.New("no scheduling offer is awaiting confirmation")
)

// Backend is the session's view of the gateway.
type Backend interface {
	Respond(ctx context.Context, query string) *types.NormalizedResponse
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*types.Transcription, error)
}

// Sink receives the session's UI-facing events. The WebSocket transport
// implements it; the REST path uses the snapshot instead.
type Sink interface {
	MessageAppended(m types.Message)
	MessageUpdated(m types.Message)
	MessageRemoved(id int64)
	ConfirmationRequested(offer types.PendingOffer)
	Notice(text string)
}

// ConfirmationRecorder persists confirmed callbacks for the audit trail.
type ConfirmationRecorder interface {
	SaveConfirmed(sessionID, originalQuery string, sched types.Schedule, sent types.Sentiment) error
}

type phase int

const (
	phaseIdle phase = iota
	phaseRevealing
	phaseAwaitingConfirmation
)

// pendingConfirmation snapshots a scheduling offer between reveal completion
// and the user's confirm/cancel. The log is not touched until resolution.
type pendingConfirmation struct {
	originalQuery string
	responseText  string
	schedule      *types.Schedule
	sentiment     types.Sentiment
}

// Session runs the turn-taking protocol for one conversation: exactly one
// in-flight operation at a time, phases Idle -> Revealing -> (optionally)
// AwaitingConfirmation -> Idle.
type Session struct {
	id       string
	log      *store.ChatStore
	backend  Backend
	pol      policy.Policy
	recorder ConfirmationRecorder

	mu      sync.Mutex
	sink    Sink
	phase   phase
	pending *pendingConfirmation
}

type Config struct {
	ID      string
	Store   *store.ChatStore
	Backend Backend
	Policy  policy.Policy
	// Optional; defaults to a no-op sink.
	Sink Sink
	// Optional; confirmed offers are only logged when unset.
	Recorder ConfirmationRecorder
}

func New(cfg Config) *Session {
	sink := cfg.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Session{
		id:       cfg.ID,
		log:      cfg.Store,
		backend:  cfg.Backend,
		pol:      cfg.Policy,
		sink:     sink,
		recorder: cfg.Recorder,
	}
}

func (s *Session) ID() string { return s.id }

// SetSink attaches (or, with nil, detaches) the transport that receives this
// session's events. A reconnecting client swaps its sink in without losing
// the conversation.
func (s *Session) SetSink(sink Sink) {
	if sink == nil {
		sink = nopSink{}
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Session) notify() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Snapshot returns the visible conversation log.
func (s *Session) Snapshot() []types.Message {
	return s.log.Snapshot(s.id)
}

// PendingOffer returns the open scheduling offer, if any.
func (s *Session) PendingOffer() *types.PendingOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	return &types.PendingOffer{Schedule: s.pending.schedule, Sentiment: s.pending.sentiment}
}

// Send runs one full text turn: append the user message, resolve a response
// through the gateway, reveal it, and evaluate the scheduling trigger. It
// blocks until the turn settles (reveal finished or gate opened).
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if err := s.beginTurn(); err != nil {
		return err
	}

	user := s.log.Append(s.id, types.RoleUser, text, false)
	s.notify().MessageAppended(user)

	resp := s.backend.Respond(ctx, text)
	s.deliver(text, resp)
	return nil
}

// Upload runs one audio turn. Non-audio files are rejected before anything
// is appended or sent. On transcription failure the placeholder is retracted
// so the attempt leaves no trace in the conversation.
func (s *Session) Upload(ctx context.Context, filename, contentType string, audio io.Reader) error {
	if !strings.HasPrefix(contentType, "audio/") {
		return ErrNotAudio
	}
	if err := s.beginTurn(); err != nil {
		return err
	}

	placeholder := s.log.Append(s.id, types.RoleUser, s.pol.UploadPlaceholder, false)
	s.notify().MessageAppended(placeholder)

	tr, err := s.backend.Transcribe(ctx, filename, audio)
	if err != nil {
		s.log.Remove(s.id, placeholder.ID)
		s.notify().MessageRemoved(placeholder.ID)
		s.notify().Notice("Failed to process audio. Please try again.")
		s.setPhase(phaseIdle)
		return fmt.Errorf("audio upload: %w", err)
	}

	// Rewrite the placeholder in place; never a second user message.
	s.log.UpdateContent(s.id, placeholder.ID, tr.Text)
	placeholder.Content = tr.Text
	s.notify().MessageUpdated(placeholder)

	s.deliver(tr.Text, &tr.Response)
	return nil
}

// Confirm commits the pending offer: the assistant reply, then the schedule
// summary, appended as one atomic addition to the visible log.
func (s *Session) Confirm() error {
	s.mu.Lock()
	if s.phase != phaseAwaitingConfirmation || s.pending == nil {
		s.mu.Unlock()
		return ErrNoPendingOffer
	}
	p := s.pending
	s.pending = nil
	s.phase = phaseIdle
	s.mu.Unlock()

	assistant := s.log.Append(s.id, types.RoleAssistant, p.responseText, false)
	s.notify().MessageAppended(assistant)
	if p.schedule != nil {
		summary := fmt.Sprintf("\U0001F4C5 Callback scheduled for %s at %s (Priority: %s)",
			p.schedule.Date, p.schedule.Time, p.schedule.Priority)
		system := s.log.Append(s.id, types.RoleSystem, summary, false)
		s.notify().MessageAppended(system)

		if s.recorder != nil {
			if err := s.recorder.SaveConfirmed(s.id, p.originalQuery, *p.schedule, p.sentiment); err != nil {
				log.Printf("[session] failed to record confirmed callback for %s: %v", s.id, err)
			}
		} else {
			log.Printf("[session] callback confirmed for %s: %s %s (%s)", s.id, p.schedule.Date, p.schedule.Time, p.schedule.Priority)
		}
	}
	return nil
}

// Cancel discards the pending offer. The snapshot's assistant text is never
// shown; the log gains exactly one system notice.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.phase != phaseAwaitingConfirmation || s.pending == nil {
		s.mu.Unlock()
		return ErrNoPendingOffer
	}
	s.pending = nil
	s.phase = phaseIdle
	s.mu.Unlock()

	notice := s.log.Append(s.id, types.RoleSystem, s.pol.CancelNotice, false)
	s.notify().MessageAppended(notice)
	return nil
}

// deliver reveals the response and evaluates the scheduling trigger. When
// the trigger fires, the revealed entry is retracted and held in the pending
// snapshot: it only becomes permanent if the user confirms.
func (s *Session) deliver(query string, resp *types.NormalizedResponse) {
	target := s.log.Append(s.id, types.RoleAssistant, "", true)
	s.notify().MessageAppended(target)

	if !s.reveal(target, resp.Response) {
		// The entry disappeared mid-reveal; nothing left to gate.
		s.setPhase(phaseIdle)
		return
	}

	if !ShouldOfferSchedule(query, resp, s.pol.TriggerPhrases) {
		s.setPhase(phaseIdle)
		return
	}

	s.log.Remove(s.id, target.ID)
	s.notify().MessageRemoved(target.ID)

	s.mu.Lock()
	s.pending = &pendingConfirmation{
		originalQuery: query,
		responseText:  resp.Response,
		schedule:      resp.Schedule,
		sentiment:     resp.Sentiment,
	}
	s.phase = phaseAwaitingConfirmation
	s.mu.Unlock()

	s.notify().ConfirmationRequested(types.PendingOffer{Schedule: resp.Schedule, Sentiment: resp.Sentiment})
}

// reveal grows the target message one character per tick until the full text
// is shown, then clears the revealing flag. Returns false if the entry was
// removed mid-reveal. The ticker is stopped exactly once on every path.
func (s *Session) reveal(target types.Message, full string) bool {
	runes := []rune(full)
	interval := s.pol.RevealInterval()
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := range runes {
		<-ticker.C
		prefix := string(runes[:i+1])
		if !s.log.UpdateContent(s.id, target.ID, prefix) {
			return false
		}
		target.Content = prefix
		s.notify().MessageUpdated(target)
	}

	if !s.log.SetRevealing(s.id, target.ID, false) {
		return false
	}
	target.Content = full
	target.Revealing = false
	s.notify().MessageUpdated(target)
	return true
}

func (s *Session) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseIdle {
		return ErrBusy
	}
	s.phase = phaseRevealing
	return nil
}

func (s *Session) setPhase(p phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

type nopSink struct{}

func (nopSink) MessageAppended(types.Message)            {}
func (nopSink) MessageUpdated(types.Message)             {}
func (nopSink) MessageRemoved(int64)                     {}
func (nopSink) ConfirmationRequested(types.PendingOffer) {}
func (nopSink) Notice(string)                            {}
