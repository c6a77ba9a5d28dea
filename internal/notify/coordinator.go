// Package notify turns call session changes into user-facing prompts and
// drives the ringtone. It owns presentation policy only; the session store
// decides state, this package decides what that state looks and sounds like.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/domain"
)

// Ringtone is the platform sound hook. Implementations must be idempotent:
// Play while playing and Stop while stopped are no-ops.
type Ringtone interface {
	Play()
	Stop()
}

// NopRingtone is the silent default
type NopRingtone struct{}

func (NopRingtone) Play() {}
func (NopRingtone) Stop() {}

// Prompt is what the UI should present for the current call state
type Prompt struct {
	Kind       string `json:"kind"` // incoming, outgoing, connecting, in-call, ended
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	ShowAccept bool   `json:"show_accept"`
	ShowReject bool   `json:"show_reject"`
	ShowHangup bool   `json:"show_hangup"`
	ElapsedSec int    `json:"elapsed_sec,omitempty"`
}

// PresenceChange reports one peer's effective status flip
type PresenceChange struct {
	UserID uuid.UUID             `json:"user_id"`
	Status domain.PresenceStatus `json:"status"`
}

// TypingChange reports who is typing in a conversation
type TypingChange struct {
	ConversationID uuid.UUID            `json:"conversation_id"`
	Typists        []domain.TypingEntry `json:"typists"`
}

// Event is one entry on the UI event feed
type Event struct {
	Type       string                  `json:"type"`
	Session    *domain.CallSession     `json:"session,omitempty"`
	Prompt     *Prompt                 `json:"prompt,omitempty"`
	Message    *domain.Message         `json:"message,omitempty"`
	Presence   *PresenceChange         `json:"presence,omitempty"`
	Typing     *TypingChange           `json:"typing,omitempty"`
	Attachment *domain.MediaAttachment `json:"attachment,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

// Event types on the feed
const (
	EventCallRinging       = "call.ringing"
	EventCallUpdated       = "call.updated"
	EventCallTick          = "call.tick"
	EventCallEnded         = "call.ended"
	EventMessageReceived   = "message.received"
	EventPresenceChanged   = "presence.changed"
	EventTypingChanged     = "typing.changed"
	EventAttachmentUpdated = "attachment.updated"
)

// Sink receives feed events; the WebSocket hub implements this
type Sink interface {
	Deliver(event Event)
}

// Coordinator implements the session store's Notifier.
type Coordinator struct {
	ringtone Ringtone
	sink     Sink
	log      *zap.Logger

	mu      sync.Mutex
	ringing bool
}

// NewCoordinator creates a notification coordinator. ringtone and sink may
// be nil.
func NewCoordinator(ringtone Ringtone, sink Sink, log *zap.Logger) *Coordinator {
	if ringtone == nil {
		ringtone = NopRingtone{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{ringtone: ringtone, sink: sink, log: log}
}

// CallRinging starts the ringtone and surfaces the incoming-call prompt
func (c *Coordinator) CallRinging(session domain.CallSession) {
	c.mu.Lock()
	if !c.ringing {
		c.ringing = true
		c.ringtone.Play()
	}
	c.mu.Unlock()

	c.emit(EventCallRinging, session, 0)
}

// CallProgress updates the prompt; leaving incoming-ringing silences the
// ringtone
func (c *Coordinator) CallProgress(session domain.CallSession) {
	c.stopRingtoneUnless(session.State == domain.CallStateIncomingRinging)
	c.emit(EventCallUpdated, session, 0)
}

// CallTick refreshes the in-call duration display
func (c *Coordinator) CallTick(session domain.CallSession, elapsed time.Duration) {
	c.emit(EventCallTick, session, elapsed)
}

// CallEnded silences the ringtone and surfaces the terminal prompt
func (c *Coordinator) CallEnded(session domain.CallSession) {
	c.stopRingtoneUnless(false)
	c.emit(EventCallEnded, session, 0)
	c.log.Debug("call prompt cleared",
		zap.String("call_id", session.CallID.String()),
		zap.String("reason", string(session.EndReason)))
}

func (c *Coordinator) stopRingtoneUnless(keep bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ringing && !keep {
		c.ringing = false
		c.ringtone.Stop()
	}
}

func (c *Coordinator) emit(eventType string, session domain.CallSession, elapsed time.Duration) {
	if c.sink == nil {
		return
	}
	prompt := PromptFor(session, elapsed)
	snapshot := session
	c.sink.Deliver(Event{
		Type:      eventType,
		Session:   &snapshot,
		Prompt:    &prompt,
		Timestamp: time.Now().UTC(),
	})
}

// PromptFor derives the user-facing prompt for a session snapshot
func PromptFor(session domain.CallSession, elapsed time.Duration) Prompt {
	name := session.PeerDisplayName
	if name == "" {
		name = "Unknown caller"
	}
	kindLabel := "Voice"
	if session.MediaKind == domain.MediaVideo {
		kindLabel = "Video"
	}

	switch session.State {
	case domain.CallStateIncomingRinging:
		return Prompt{
			Kind:       "incoming",
			Title:      fmt.Sprintf("%s call from %s", kindLabel, name),
			ShowAccept: true,
			ShowReject: true,
		}
	case domain.CallStateOutgoingCalling:
		return Prompt{
			Kind:       "outgoing",
			Title:      fmt.Sprintf("Calling %s", name),
			ShowHangup: true,
		}
	case domain.CallStateConnecting:
		return Prompt{
			Kind:       "connecting",
			Title:      fmt.Sprintf("Connecting to %s", name),
			ShowHangup: true,
		}
	case domain.CallStateConnected:
		return Prompt{
			Kind:       "in-call",
			Title:      name,
			Body:       formatDuration(elapsed),
			ShowHangup: true,
			ElapsedSec: int(elapsed.Seconds()),
		}
	case domain.CallStateEnded:
		return Prompt{
			Kind:  "ended",
			Title: endedTitle(session),
			Body:  name,
		}
	default:
		return Prompt{Kind: "idle"}
	}
}

func endedTitle(session domain.CallSession) string {
	switch session.EndReason {
	case domain.EndReasonBusy:
		return "Busy"
	case domain.EndReasonRejected:
		if session.Direction == domain.DirectionOutgoing {
			return "Call declined"
		}
		return "Call ended"
	case domain.EndReasonConnectionLost:
		return "Connection lost"
	case domain.EndReasonFailed:
		return "Call failed"
	default:
		if session.Direction == domain.DirectionIncoming && session.ConnectedAt == nil {
			return "Missed call"
		}
		return "Call ended"
	}
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
