// Package voice bridges speech recognition and synthesis engines into plain
// text for the chat path. It keeps no history and never talks to the store
// or the providers.
package voice

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
)

// State is the phase of one of the two engine state machines.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateSpeaking  State = "speaking"
)

// Session identifies one run of the recognizer. Events from a session that
// is no longer current are dropped.
type Session uint64

// Utterance identifies one Speak call. Events from an utterance that has been
// replaced or cancelled are dropped.
type Utterance uint64

// Recognizer is a continuous speech-to-text engine. Results are delivered
// back through Bridge.HandleRecognition and friends, tagged with the session
// passed to Start. Callbacks may arrive synchronously from Start or Stop.
type Recognizer interface {
	Start(session Session, locale string) error
	Stop() error
}

// Synthesizer is a text-to-speech engine. Completion is delivered back
// through Bridge.HandleSpeechEnd or Bridge.HandleSpeechError, tagged with the
// utterance passed to Speak. Callbacks may arrive synchronously from Speak or
// Cancel.
type Synthesizer interface {
	Speak(utterance Utterance, text, locale string) error
	Cancel() error
}

// Segment is one recognition result.
type Segment struct {
	Text  string
	Final bool
}

// ResultBatch is the set of segments delivered by a single engine event.
type ResultBatch []Segment

// Listener receives bridge events. Nil callbacks are skipped.
type Listener struct {
	OnTranscript func(transcript string)
	OnError      func(err error)
	OnEnd        func()
}

// Bridge owns the listening and speaking state machines.
type Bridge struct {
	recognizer  Recognizer
	synthesizer Synthesizer
	logger      *slog.Logger

	mu        sync.Mutex
	locale    language.Tag
	listening State
	speaking  State
	committed []string
	interim   string
	session   Session
	utterance Utterance
	listeners map[int]Listener
	nextID    int
}

// New creates a bridge with both machines idle.
func New(recognizer Recognizer, synthesizer Synthesizer, locale string, logger *slog.Logger) (*Bridge, error) {
	tag, err := parseLocale(locale)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		recognizer:  recognizer,
		synthesizer: synthesizer,
		logger:      logger,
		locale:      tag,
		listening:   StateIdle,
		speaking:    StateIdle,
		listeners:   make(map[int]Listener),
	}, nil
}

func parseLocale(locale string) (language.Tag, error) {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return language.Und, apperrors.Validation(fmt.Sprintf("invalid locale %q", locale))
	}
	return tag, nil
}

// Subscribe registers l and returns a function that removes it.
func (b *Bridge) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Locale returns the current recognition and synthesis locale.
func (b *Bridge) Locale() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locale.String()
}

// ListeningState returns the speech-to-text phase.
func (b *Bridge) ListeningState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// SpeakingState returns the text-to-speech phase.
func (b *Bridge) SpeakingState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Transcript returns the committed text followed by the latest interim segment.
func (b *Bridge) Transcript() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcriptLocked()
}

func (b *Bridge) transcriptLocked() string {
	parts := append([]string(nil), b.committed...)
	if b.interim != "" {
		parts = append(parts, b.interim)
	}
	return strings.Join(parts, " ")
}

// StartListening starts recognition with a fresh transcript. It is a no-op
// while already listening.
func (b *Bridge) StartListening() error {
	b.mu.Lock()
	if b.listening == StateListening {
		b.mu.Unlock()
		return nil
	}
	b.session++
	session := b.session
	locale := b.locale.String()
	b.committed = nil
	b.interim = ""
	b.listening = StateListening
	b.mu.Unlock()

	if err := b.recognizer.Start(session, locale); err != nil {
		b.endSession(session)
		return fmt.Errorf("failed to start recognition: %w", err)
	}
	b.logger.Debug("voice: listening", "locale", locale, "session", session)
	return nil
}

// StopListening stops recognition. It is a no-op while idle.
func (b *Bridge) StopListening() error {
	b.mu.Lock()
	if b.listening == StateIdle {
		b.mu.Unlock()
		return nil
	}
	b.listening = StateIdle
	b.mu.Unlock()

	if err := b.recognizer.Stop(); err != nil {
		return fmt.Errorf("failed to stop recognition: %w", err)
	}
	return nil
}

// currentSessionLocked reports whether events from session should be applied.
func (b *Bridge) currentSessionLocked(session Session) bool {
	return session == b.session && b.listening == StateListening
}

// endSession returns recognition to idle if session is still current.
func (b *Bridge) endSession(session Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.currentSessionLocked(session) {
		return false
	}
	b.listening = StateIdle
	return true
}

// HandleRecognition folds a batch into the transcript and notifies
// subscribers. Final segments are committed; when a batch carries any final
// segment its interim segments are dropped.
func (b *Bridge) HandleRecognition(session Session, batch ResultBatch) {
	b.mu.Lock()
	if !b.currentSessionLocked(session) {
		b.mu.Unlock()
		return
	}

	hasFinal := false
	latestInterim := ""
	for _, seg := range batch {
		text := strings.TrimSpace(seg.Text)
		if seg.Final {
			hasFinal = true
			if text != "" {
				b.committed = append(b.committed, text)
			}
			continue
		}
		if text != "" {
			latestInterim = text
		}
	}
	if hasFinal {
		b.interim = ""
	} else {
		b.interim = latestInterim
	}

	transcript := b.transcriptLocked()
	listeners := b.snapshotLocked()
	b.mu.Unlock()

	for _, l := range listeners {
		if l.OnTranscript != nil {
			l.OnTranscript(transcript)
		}
	}
}

// HandleRecognitionError returns recognition to idle and reports err.
func (b *Bridge) HandleRecognitionError(session Session, err error) {
	if !b.endSession(session) {
		b.logger.Debug("voice: dropped stale recognition error", "session", session, "error", err)
		return
	}

	b.logger.Warn("voice: recognition error", "error", err)
	b.notifyError(b.snapshot(), fmt.Errorf("recognition: %w", err))
}

// HandleRecognitionEnd returns recognition to idle when the engine stops
// on its own.
func (b *Bridge) HandleRecognitionEnd(session Session) {
	if !b.endSession(session) {
		return
	}
	for _, l := range b.snapshot() {
		if l.OnEnd != nil {
			l.OnEnd()
		}
	}
}

// Speak cancels any current utterance and speaks text in the bridge locale.
// The returned id tags the engine's end and error events.
func (b *Bridge) Speak(text string) (Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, apperrors.Validation("nothing to speak")
	}

	b.mu.Lock()
	wasSpeaking := b.speaking == StateSpeaking
	b.utterance++
	id := b.utterance
	locale := b.locale.String()
	b.speaking = StateSpeaking
	b.mu.Unlock()

	if wasSpeaking {
		if err := b.synthesizer.Cancel(); err != nil {
			b.endUtterance(id)
			return 0, fmt.Errorf("failed to cancel utterance: %w", err)
		}
	}
	if err := b.synthesizer.Speak(id, text, locale); err != nil {
		b.endUtterance(id)
		return 0, fmt.Errorf("failed to speak: %w", err)
	}
	return id, nil
}

// StopSpeaking cancels the current utterance. It is a no-op while idle.
func (b *Bridge) StopSpeaking() error {
	b.mu.Lock()
	if b.speaking == StateIdle {
		b.mu.Unlock()
		return nil
	}
	b.speaking = StateIdle
	b.mu.Unlock()

	return b.synthesizer.Cancel()
}

// endUtterance returns synthesis to idle if id is still the current utterance.
func (b *Bridge) endUtterance(id Utterance) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != b.utterance || b.speaking != StateSpeaking {
		return false
	}
	b.speaking = StateIdle
	return true
}

// HandleSpeechEnd marks the utterance finished.
func (b *Bridge) HandleSpeechEnd(id Utterance) {
	b.endUtterance(id)
}

// HandleSpeechError returns synthesis to idle and reports err.
func (b *Bridge) HandleSpeechError(id Utterance, err error) {
	if !b.endUtterance(id) {
		b.logger.Debug("voice: dropped stale synthesis error", "utterance", id, "error", err)
		return
	}

	b.logger.Warn("voice: synthesis error", "error", err)
	b.notifyError(b.snapshot(), fmt.Errorf("synthesis: %w", err))
}

// SetLocale switches recognition and synthesis together. Active recognition
// is restarted in the new locale; an active utterance is cancelled.
func (b *Bridge) SetLocale(locale string) error {
	tag, err := parseLocale(locale)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if tag == b.locale {
		b.mu.Unlock()
		return nil
	}
	b.locale = tag

	cancel := b.speaking == StateSpeaking
	if cancel {
		b.speaking = StateIdle
	}
	restart := b.listening == StateListening
	if restart {
		b.session++
	}
	session := b.session
	b.mu.Unlock()

	if cancel {
		if err := b.synthesizer.Cancel(); err != nil {
			return fmt.Errorf("failed to cancel utterance: %w", err)
		}
	}
	if restart {
		if err := b.recognizer.Stop(); err != nil {
			b.endSession(session)
			return fmt.Errorf("failed to stop recognition: %w", err)
		}
		if err := b.recognizer.Start(session, tag.String()); err != nil {
			b.endSession(session)
			return fmt.Errorf("failed to restart recognition: %w", err)
		}
	}
	b.logger.Debug("voice: locale changed", "locale", tag.String())
	return nil
}

func (b *Bridge) snapshot() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Bridge) snapshotLocked() []Listener {
	out := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		out = append(out, l)
	}
	return out
}

func (b *Bridge) notifyError(listeners []Listener, err error) {
	for _, l := range listeners {
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}
