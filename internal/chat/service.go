package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/suPer8Hu/ola-suite/internal/chatclient"
	"github.com/suPer8Hu/ola-suite/internal/logging"
)

// Backend is the part of chatclient.Client the service drives.
type Backend interface {
	SessionID() string
	CreateSession(ctx context.Context) (string, error)
	StartNewChat(ctx context.Context) (string, error)
	SendMessageStream(ctx context.Context, message string, onData func(chatclient.Event), opts ...chatclient.SendOption) (*chatclient.Stream, error)
}

type Service struct {
	backend Backend
	repo    *Repo // optional
	conv    *Conversation
	log     *slog.Logger
}

func NewService(backend Backend, repo *Repo, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		repo:    repo,
		conv:    NewConversation(backend.SessionID()),
		log:     logging.OrDefault(logger),
	}
}

func (s *Service) Conversation() *Conversation { return s.conv }

// Ask stores the user message, streams the answer into a new assistant
// message and stores that once the stream ends. onUpdate sees every visible
// change, on the stream goroutine. Cancelling ctx aborts the answer.
func (s *Service) Ask(ctx context.Context, content string, onUpdate func(Message), opts ...chatclient.SendOption) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, chatclient.ErrEmptyMessage
	}

	sid := s.backend.SessionID()
	if sid == "" {
		var err error
		if sid, err = s.backend.CreateSession(ctx); err != nil {
			return Message{}, err
		}
	}
	if s.conv.SessionID() != sid {
		s.conv.Reset(sid)
	}

	userMsg := s.conv.AddUser(content)
	if s.repo != nil {
		rec := *userMsg
		if err := s.repo.InsertMessage(ctx, &rec); err != nil {
			return Message{}, err
		}
		s.conv.setID(userMsg, rec.ID)
	}

	assistant := s.conv.BeginAssistant()
	stream, err := s.backend.SendMessageStream(ctx, content, func(ev chatclient.Event) {
		snap, changed := s.conv.Apply(assistant, ev)
		if changed && onUpdate != nil {
			onUpdate(snap)
		}
	}, opts...)
	if err != nil {
		msg := err.Error()
		s.conv.Apply(assistant, chatclient.Event{Kind: chatclient.KindError, Message: msg})
		return s.conv.Finish(assistant, false), err
	}

	streamErr := stream.Wait()
	aborted := stream.Aborted() || errors.Is(ctx.Err(), context.Canceled)
	final := s.conv.Finish(assistant, aborted)

	if s.repo != nil {
		rec := final
		// the caller's ctx may be the one that was cancelled
		if err := s.repo.InsertMessage(context.WithoutCancel(ctx), &rec); err != nil {
			s.log.Warn("persist assistant message failed", "session_id", sid, "err", err)
		} else {
			s.conv.setID(assistant, rec.ID)
			final.ID = rec.ID
		}
	}
	return final, streamErr
}

// NewChat replaces the backend session and clears the transcript.
func (s *Service) NewChat(ctx context.Context) (string, error) {
	sid, err := s.backend.StartNewChat(ctx)
	if err != nil {
		return "", err
	}
	s.conv.Reset(sid)
	return sid, nil
}

// Transcript returns the locally stored messages of the current session in
// ASC order, falling back to the in-memory conversation without a repo.
func (s *Service) Transcript(ctx context.Context, limit int) ([]Message, error) {
	if s.repo == nil {
		return s.conv.Messages(), nil
	}
	desc, err := s.repo.ListMessages(ctx, s.conv.SessionID(), limit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}
