package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/core/retrieval"
	"github.com/ragline/ragline/internal/models"
)

type ChatService struct {
	db        core.DbClient
	assembler *retrieval.Assembler
	history   int
}

func NewChatService(db core.DbClient, assembler *retrieval.Assembler, historyLimit int) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &ChatService{db: db, assembler: assembler, history: historyLimit}
}

// CreateSession opens a conversation over the given contexts. Every context
// must exist, belong to the user, and be ready.
func (s *ChatService) CreateSession(ctx context.Context, userID string, contextIDs []string) (*models.ChatSession, error) {
	if len(contextIDs) == 0 {
		return nil, errors.New("at least one context is required")
	}
	for _, id := range contextIDs {
		kc, err := s.db.GetContextByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if kc == nil || kc.UserID != userID {
			return nil, fmt.Errorf("context not found: %s", id)
		}
		if kc.Status != models.StatusReady {
			return nil, fmt.Errorf("%w: %s is %s", core.ErrContextNotReady, kc.Name, kc.Status)
		}
	}

	session := &models.ChatSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		ContextIDs: contextIDs,
		CreatedAt:  time.Now(),
	}
	if err := s.db.CreateChatSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	return s.db.GetChatSession(ctx, id)
}

func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	return s.db.GetMessagesBySession(ctx, sessionID, limit)
}

// Ask answers a question within a session: retrieve over the session's
// contexts with prior turns as conversational history, then persist both the
// question and the cited answer.
func (s *ChatService) Ask(ctx context.Context, session *models.ChatSession, question string) (*models.ChatMessage, error) {
	contexts := make([]*models.Context, 0, len(session.ContextIDs))
	for _, id := range session.ContextIDs {
		kc, err := s.db.GetContextByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if kc == nil {
			return nil, fmt.Errorf("context not found: %s", id)
		}
		contexts = append(contexts, kc)
	}

	history, err := s.db.GetMessagesBySession(ctx, session.ID, s.history)
	if err != nil {
		return nil, err
	}

	answer, err := s.assembler.Answer(ctx, question, contexts, history)
	if err != nil {
		return nil, err
	}

	userMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      "user",
		Content:   question,
		CreatedAt: time.Now(),
	}
	if err := s.db.AddChatMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	assistantMsg := &models.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       "assistant",
		Content:    answer.Text,
		Citations:  answer.Citations,
		TokensUsed: answer.TokensUsed,
		CreatedAt:  time.Now().Add(time.Millisecond),
	}
	if err := s.db.AddChatMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}
	return assistantMsg, nil
}
