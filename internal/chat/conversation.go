package chat

import (
	"sync"

	"github.com/suPer8Hu/ola-suite/internal/chatclient"
)

// Apply folds one stream event into an assistant message and reports whether
// anything visible changed. Parse errors and unknown shapes are ignored.
func Apply(m *Message, ev chatclient.Event) bool {
	switch ev.Kind {
	case chatclient.KindContent:
		if ev.Mode == chatclient.ModeReplace {
			m.Content = ev.Content
		} else {
			m.Content += ev.Content
		}
		return true

	case chatclient.KindFinalAnswer:
		m.Content = ev.FinalAnswer
		m.Status = StatusDone
		m.Progress = ""
		return true

	case chatclient.KindStep:
		m.Progress = chatclient.StepLabel(ev.Step)
		for _, d := range ev.Disclosures() {
			if !hasDisclosure(m.Disclosures, d.ReceiptNo) {
				m.Disclosures = append(m.Disclosures, d)
			}
		}
		return true

	case chatclient.KindError:
		msg := ev.Message
		m.Error = &msg
		m.Status = StatusFailed
		m.Progress = ""
		if m.Content == "" {
			m.Content = msg
		}
		return true
	}
	return false
}

func hasDisclosure(ds []chatclient.Disclosure, rceptNo string) bool {
	for _, d := range ds {
		if d.ReceiptNo == rceptNo {
			return true
		}
	}
	return false
}

// Conversation is the in-memory transcript of one session. Safe for
// concurrent use; the stream goroutine applies events while a UI reads.
type Conversation struct {
	mu        sync.Mutex
	sessionID string
	messages  []*Message
}

func NewConversation(sessionID string) *Conversation {
	return &Conversation{sessionID: sessionID}
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Reset starts over for a new session.
func (c *Conversation) Reset(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.messages = nil
}

func (c *Conversation) AddUser(content string) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &Message{SessionID: c.sessionID, Role: RoleUser, Content: content, Status: StatusDone}
	c.messages = append(c.messages, m)
	return m
}

// BeginAssistant appends an empty streaming assistant message.
func (c *Conversation) BeginAssistant() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &Message{SessionID: c.sessionID, Role: RoleAssistant, Status: StatusStreaming}
	c.messages = append(c.messages, m)
	return m
}

// Apply folds ev into m under the conversation lock and returns a copy of m.
func (c *Conversation) Apply(m *Message, ev chatclient.Event) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := Apply(m, ev)
	return *m, changed
}

// Finish settles a message that is still streaming once its stream ended.
func (c *Conversation) Finish(m *Message, aborted bool) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Status == StatusStreaming {
		if aborted {
			m.Status = StatusAborted
		} else {
			m.Status = StatusDone
		}
		m.Progress = ""
	}
	return *m
}

func (c *Conversation) setID(m *Message, id uint64) {
	c.mu.Lock()
	m.ID = id
	c.mu.Unlock()
}

// Messages returns a snapshot of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, *m)
	}
	return out
}
