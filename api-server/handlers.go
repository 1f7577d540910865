package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const historyPageSize = 50

// Server holds the REST layer's dependencies.
type Server struct {
	db *sql.DB
}

func newServer(db *sql.DB) *Server {
	return &Server{db: db}
}

// Listing is a marketplace item offered by a seller.
type Listing struct {
	Id          string `json:"id"`
	SellerId    string `json:"sellerId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"` // cents
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"` // unix millis
}

// Conversation is the buyer/seller thread attached to a listing.
type Conversation struct {
	Id        string `json:"id"`
	ListingId string `json:"listingId"`
	BuyerId   string `json:"buyerId"`
	SellerId  string `json:"sellerId"`
	CreatedAt int64  `json:"createdAt"`
}

// Transaction records a completed purchase.
type Transaction struct {
	Id        string `json:"id"`
	ListingId string `json:"listingId"`
	BuyerId   string `json:"buyerId"`
	SellerId  string `json:"sellerId"`
	Price     int64  `json:"price"`
	CreatedAt int64  `json:"createdAt"`
}

// MessageRecord is a persisted chat message as served from history.
type MessageRecord struct {
	Id             int64  `json:"id"`
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	SentAt         int64  `json:"sentAt"`
	Read           bool   `json:"read"`
}

type createListingRequest struct {
	SellerId    string `json:"sellerId" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Price       int64  `json:"price" binding:"required,gt=0"`
}

func (s *Server) createListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing := Listing{
		Id:          uuid.New().String(),
		SellerId:    req.SellerId,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Status:      "available",
		CreatedAt:   time.Now().UnixMilli(),
	}
	_, err := s.db.ExecContext(c.Request.Context(),
		"INSERT INTO listings (id, seller_id, title, description, price, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		listing.Id, listing.SellerId, listing.Title, listing.Description, listing.Price, listing.Status, listing.CreatedAt)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "Failed to insert listing", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create listing"})
		return
	}

	c.JSON(http.StatusCreated, listing)
}

func (s *Server) listListings(c *gin.Context) {
	query := "SELECT id, seller_id, title, description, price, status, created_at FROM listings"
	args := []any{}
	if status := c.Query("status"); status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT 50"

	rows, err := s.db.QueryContext(c.Request.Context(), query, args...)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "Failed to query listings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list listings"})
		return
	}
	defer rows.Close()

	listings := []Listing{}
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.Id, &l.SellerId, &l.Title, &l.Description, &l.Price, &l.Status, &l.CreatedAt); err != nil {
			slog.ErrorContext(c.Request.Context(), "Failed to scan listing", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list listings"})
			return
		}
		listings = append(listings, l)
	}

	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) getListing(c *gin.Context) {
	var l Listing
	err := s.db.QueryRowContext(c.Request.Context(),
		"SELECT id, seller_id, title, description, price, status, created_at FROM listings WHERE id = $1",
		c.Param("id")).Scan(&l.Id, &l.SellerId, &l.Title, &l.Description, &l.Price, &l.Status, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "Failed to query listing", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load listing"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) searchUsers(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	rows, err := s.db.QueryContext(c.Request.Context(),
		"SELECT username, name, COALESCE(avatar_url, '') FROM users WHERE username ILIKE $1 OR name ILIKE $1 ORDER BY username LIMIT 20",
		q+"%")
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "Failed to search users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}
	defer rows.Close()

	type userResult struct {
		Username  string `json:"username"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatarUrl"`
	}
	users := []userResult{}
	for rows.Next() {
		var u userResult
		if err := rows.Scan(&u.Username, &u.Name, &u.AvatarURL); err != nil {
			slog.ErrorContext(c.Request.Context(), "Failed to scan user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
			return
		}
		users = append(users, u)
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

type createTransactionRequest struct {
	ListingId string `json:"listingId" binding:"required"`
	BuyerId   string `json:"buyerId" binding:"required"`
}

// createTransaction records a purchase and marks the listing sold, atomically.
func (s *Server) createTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record purchase"})
		return
	}
	defer tx.Rollback()

	var sellerId, status string
	var price int64
	err = tx.QueryRowContext(ctx,
		"SELECT seller_id, price, status FROM listings WHERE id = $1 FOR UPDATE",
		req.ListingId).Scan(&sellerId, &price, &status)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to lock listing", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record purchase"})
		return
	}
	if status != "available" {
		c.JSON(http.StatusConflict, gin.H{"error": "listing is no longer available"})
		return
	}
	if sellerId == req.BuyerId {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot buy your own listing"})
		return
	}

	record := Transaction{
		Id:        uuid.New().String(),
		ListingId: req.ListingId,
		BuyerId:   req.BuyerId,
		SellerId:  sellerId,
		Price:     price,
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO transactions (id, listing_id, buyer_id, seller_id, price, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		record.Id, record.ListingId, record.BuyerId, record.SellerId, record.Price, record.CreatedAt)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to insert transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record purchase"})
		return
	}
	if _, err = tx.ExecContext(ctx, "UPDATE listings SET status = 'sold' WHERE id = $1", req.ListingId); err != nil {
		slog.ErrorContext(ctx, "Failed to update listing status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record purchase"})
		return
	}
	if err = tx.Commit(); err != nil {
		slog.ErrorContext(ctx, "Failed to commit purchase", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record purchase"})
		return
	}

	c.JSON(http.StatusCreated, record)
}

type createConversationRequest struct {
	ListingId string `json:"listingId" binding:"required"`
	BuyerId   string `json:"buyerId" binding:"required"`
}

// createConversation finds or creates the buyer/seller thread for a listing.
// A conversation has exactly two fixed participants; repeated requests return
// the existing thread.
func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var sellerId string
	err := s.db.QueryRowContext(ctx, "SELECT seller_id FROM listings WHERE id = $1", req.ListingId).Scan(&sellerId)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to resolve listing seller", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open conversation"})
		return
	}
	if sellerId == req.BuyerId {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	conv := Conversation{
		ListingId: req.ListingId,
		BuyerId:   req.BuyerId,
		SellerId:  sellerId,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, listing_id, buyer_id, seller_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (listing_id, buyer_id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id
		 RETURNING id, created_at`,
		uuid.New().String(), req.ListingId, req.BuyerId, sellerId, time.Now().UnixMilli(),
	).Scan(&conv.Id, &conv.CreatedAt)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to find or create conversation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open conversation"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (s *Server) listConversations(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}

	rows, err := s.db.QueryContext(c.Request.Context(),
		"SELECT id, listing_id, buyer_id, seller_id, created_at FROM conversations WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC",
		user)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "Failed to query conversations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.Id, &conv.ListingId, &conv.BuyerId, &conv.SellerId, &conv.CreatedAt); err != nil {
			slog.ErrorContext(c.Request.Context(), "Failed to scan conversation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
		conversations = append(conversations, conv)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// getMessages serves keyset-paginated history. Rows come back newest-first;
// one extra row is fetched to detect another page, then the page is reversed
// into chronological order for display.
func (s *Server) getMessages(c *gin.Context) {
	conversationId := c.Param("id")
	ctx := c.Request.Context()

	query := "SELECT id, conversation_id, sender_id, body, kind, sent_at, is_read FROM messages WHERE conversation_id = $1"
	args := []any{conversationId}
	if beforeStr := c.Query("before"); beforeStr != "" {
		before, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be a message id"})
			return
		}
		query += " AND id < $2"
		args = append(args, before)
	}
	query += " ORDER BY id DESC LIMIT " + strconv.Itoa(historyPageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to query messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	defer rows.Close()

	messages := []MessageRecord{}
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.Id, &m.ConversationId, &m.SenderId, &m.Body, &m.Kind, &m.SentAt, &m.Read); err != nil {
			slog.ErrorContext(ctx, "Failed to scan message", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		messages = append(messages, m)
	}

	hasMore := len(messages) > historyPageSize
	if hasMore {
		messages = messages[:historyPageSize]
	}
	reverseMessages(messages)

	c.JSON(http.StatusOK, gin.H{"messages": messages, "hasMore": hasMore})
}

// reverseMessages flips a newest-first page into chronological order.
func reverseMessages(msgs []MessageRecord) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
