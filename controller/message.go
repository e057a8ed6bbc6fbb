package controller

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mwandt/qcxctl/device"
)

// BroadcastUID is the reserved queue key whose messages go to every
// device. Broadcast messages remember the unit-ids already served so each
// device receives them at most once.
const BroadcastUID = "all"

// DefaultSendTTL is the façade default time-to-live. Callers pass seconds
// explicitly; there is no millisecond path.
const DefaultSendTTL = 30 * time.Second

// MessageState tracks a message through the queue. Transitions are
// monotonic: Unsent, then Sent, then Answered.
type MessageState int32

const (
	MessageUnsent MessageState = iota
	MessageSent
	MessageAnswered
)

func (s MessageState) String() string {
	switch s {
	case MessageSent:
		return "SENT"
	case MessageAnswered:
		return "ANSWERED"
	}
	return "UNSENT"
}

// Callback receives the terminal message exactly once: on answer, on TTL
// expiry, or on connection failure, whichever comes first.
type Callback func(m *Message, uid string)

var msgCounter atomic.Int64

// ErrNoCommands rejects creating a message without commands.
var ErrNoCommands = errors.New("controller: message needs at least one command")

// Message is one queued unit of work targeting a unit-id (or the
// broadcast sentinel).
type Message struct {
	Counter   int64
	Started   time.Time
	TargetUID string
	Commands  []device.Command
	TTL       time.Duration

	mu         sync.Mutex
	state      MessageState
	sentJSON   []string
	answer     []byte
	answerUTF8 string
	answerJSON device.TypeJSON
	answeredAt time.Time
	err        error
	sentTo     map[string]struct{}

	cb     Callback
	cbOnce sync.Once
}

// NewMessage stamps the creation time and assigns the monotonic counter.
func NewMessage(target string, ttl time.Duration, cb Callback, commands ...device.Command) (*Message, error) {
	if len(commands) == 0 {
		return nil, ErrNoCommands
	}
	m := &Message{
		Counter:   msgCounter.Add(1),
		Started:   time.Now(),
		TargetUID: target,
		Commands:  commands,
		TTL:       ttl,
		cb:        cb,
	}
	if m.IsBroadcast() {
		m.sentTo = make(map[string]struct{})
	}
	return m, nil
}

// IsBroadcast reports whether the message targets every device.
func (m *Message) IsBroadcast() bool {
	return m.TargetUID == BroadcastUID
}

// State returns the current queue state.
func (m *Message) State() MessageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MarkSent records one serialized command as written and advances the
// state once all commands went out.
func (m *Message) MarkSent(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentJSON = append(m.sentJSON, raw)
	if m.state == MessageUnsent && len(m.sentJSON) >= len(m.Commands) {
		m.state = MessageSent
	}
}

// SentJSON returns the serialized commands written so far.
func (m *Message) SentJSON() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sentJSON))
	copy(out, m.sentJSON)
	return out
}

// DeliveredTo reports whether a broadcast was already served to uid.
func (m *Message) DeliveredTo(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sentTo == nil {
		return false
	}
	_, ok := m.sentTo[uid]
	return ok
}

// MarkDelivered records a broadcast delivery to uid.
func (m *Message) MarkDelivered(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sentTo == nil {
		m.sentTo = make(map[string]struct{})
	}
	m.sentTo[uid] = struct{}{}
}

// DeliveredCount returns how many devices a broadcast reached.
func (m *Message) DeliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentTo)
}

// SetAnswer stores a decrypted device answer and moves the message to
// ANSWERED. It reports false when the message was already answered; a
// late answer leaves the first one in place.
func (m *Message) SetAnswer(plain []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MessageAnswered {
		return false
	}
	parsed := device.TypeJSON{}
	if err := json.Unmarshal(plain, &parsed); err != nil {
		return false
	}
	m.answer = append([]byte{}, plain...)
	m.answerUTF8 = string(plain)
	m.answerJSON = parsed
	m.state = MessageAnswered
	m.answeredAt = time.Now()
	return true
}

// Answer returns the raw answer bytes, nil before an answer arrived.
func (m *Message) Answer() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answer
}

// AnswerUTF8 returns the answer as text.
func (m *Message) AnswerUTF8() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answerUTF8
}

// AnswerJSON returns the decoded answer object, nil before an answer.
func (m *Message) AnswerJSON() device.TypeJSON {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answerJSON
}

// AnsweredAt returns when the answer arrived.
func (m *Message) AnsweredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answeredAt
}

// SetErr records a terminal error surfaced through the callback.
func (m *Message) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Err returns the terminal error, if any.
func (m *Message) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Expired reports whether the time-to-live has passed.
func (m *Message) Expired(now time.Time) bool {
	return now.Sub(m.Started) > m.TTL
}

// CallCallback fires the completion callback. At most one call ever goes
// through, no matter how often answer, expiry and error paths race.
func (m *Message) CallCallback(uid string) {
	m.cbOnce.Do(func() {
		if m.cb != nil {
			m.cb(m, uid)
		}
	})
}
