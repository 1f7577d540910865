package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConversationNotFound is returned when a message references a
// conversation the store does not know.
var ErrConversationNotFound = errors.New("conversation not found")

// Participants are the two fixed identities of a conversation.
type Participants struct {
	BuyerId  string
	SellerId string
}

// SenderInfo enriches outbound notification payloads.
type SenderInfo struct {
	Name      string
	AvatarURL string
}

// MessageStore is the boundary to the relational store. The messaging core
// creates messages and flips their read flag; everything else about message
// lifecycle belongs to the REST layer.
type MessageStore interface {
	// CreateMessage persists a message and returns the full record with the
	// generated id and server timestamp. The initial read flag is false.
	CreateMessage(ctx context.Context, conversationId, senderId, body, kind string) (Message, error)
	// Participants resolves the conversation's buyer and seller, or
	// ErrConversationNotFound.
	Participants(ctx context.Context, conversationId string) (Participants, error)
	// MarkRead marks every message in the conversation not authored by
	// readerId as read, returning the number of rows updated.
	MarkRead(ctx context.Context, conversationId, readerId string) (int64, error)
	// SenderInfo returns display data for a user.
	SenderInfo(ctx context.Context, senderId string) (SenderInfo, error)
}

// postgresStore implements MessageStore with prepared statements.
type postgresStore struct {
	db               *sql.DB
	insertStmt       *sql.Stmt
	participantsStmt *sql.Stmt
	markReadStmt     *sql.Stmt
	senderInfoStmt   *sql.Stmt
}

func newPostgresStore(db *sql.DB) (*postgresStore, error) {
	s := &postgresStore{db: db}

	var err error
	s.insertStmt, err = db.Prepare(
		"INSERT INTO messages (conversation_id, sender_id, body, kind, sent_at, is_read) VALUES ($1, $2, $3, $4, $5, FALSE) RETURNING id")
	if err != nil {
		return nil, fmt.Errorf("prepare message insert: %w", err)
	}
	s.participantsStmt, err = db.Prepare(
		"SELECT buyer_id, seller_id FROM conversations WHERE id = $1")
	if err != nil {
		return nil, fmt.Errorf("prepare participants query: %w", err)
	}
	s.markReadStmt, err = db.Prepare(
		"UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read")
	if err != nil {
		return nil, fmt.Errorf("prepare mark read: %w", err)
	}
	s.senderInfoStmt, err = db.Prepare(
		"SELECT name, COALESCE(avatar_url, '') FROM users WHERE username = $1")
	if err != nil {
		return nil, fmt.Errorf("prepare sender info query: %w", err)
	}
	return s, nil
}

func (s *postgresStore) CreateMessage(ctx context.Context, conversationId, senderId, body, kind string) (Message, error) {
	msg := Message{
		ConversationId: conversationId,
		SenderId:       senderId,
		Body:           body,
		Kind:           kind,
		SentAt:         time.Now().UnixMilli(),
	}
	err := s.insertStmt.QueryRowContext(ctx, conversationId, senderId, body, kind, msg.SentAt).Scan(&msg.Id)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *postgresStore) Participants(ctx context.Context, conversationId string) (Participants, error) {
	var p Participants
	err := s.participantsStmt.QueryRowContext(ctx, conversationId).Scan(&p.BuyerId, &p.SellerId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Participants{}, ErrConversationNotFound
		}
		return Participants{}, fmt.Errorf("query participants: %w", err)
	}
	return p, nil
}

func (s *postgresStore) MarkRead(ctx context.Context, conversationId, readerId string) (int64, error) {
	res, err := s.markReadStmt.ExecContext(ctx, conversationId, readerId)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresStore) SenderInfo(ctx context.Context, senderId string) (SenderInfo, error) {
	var info SenderInfo
	err := s.senderInfoStmt.QueryRowContext(ctx, senderId).Scan(&info.Name, &info.AvatarURL)
	if err != nil {
		return SenderInfo{}, fmt.Errorf("query sender info: %w", err)
	}
	return info, nil
}

func (s *postgresStore) Close() {
	s.insertStmt.Close()
	s.participantsStmt.Close()
	s.markReadStmt.Close()
	s.senderInfoStmt.Close()
}
