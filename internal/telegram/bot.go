package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valorwatch/valorwatch/internal/account"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/store"
	"github.com/valorwatch/valorwatch/internal/valapi"
)

// Message represents an incoming or outgoing chat message
type Message struct {
	ID        int64
	ChatID    int64
	Text      string
	Timestamp time.Time
}

// BotAPI interface for Telegram operations (allows mocking in tests)
type BotAPI interface {
	SendMessage(chatID int64, text string) error
	GetUpdates() ([]Message, error)
}

// ParseModeSender allows sending messages with parse mode (HTML/MarkdownV2).
type ParseModeSender interface {
	SendMessageWithParseMode(chatID int64, text string, parseMode string) error
}

// State represents the FSM state for user conversations
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingCredentials State = "awaiting_credentials"
	StateAwaitingMFACode     State = "awaiting_mfa_code"
)

// pendingLogin carries an interactive login across FSM steps. The session
// holds the auth cookies needed to complete a multi-factor challenge.
type pendingLogin struct {
	session   *riot.Session
	challenge *riot.MultiFactorChallenge
	startedAt time.Time
	deadline  time.Time
}

// UserSession represents a user conversation session
type UserSession struct {
	UserID    int64
	State     State
	Pending   *pendingLogin
	UpdatedAt time.Time
}

// RateLimiter implements token bucket algorithm for outgoing messages
type RateLimiter struct {
	rate       int // messages per minute
	bucketSize int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(messagesPerMinute int) *RateLimiter {
	return &RateLimiter{
		rate:       messagesPerMinute,
		bucketSize: messagesPerMinute,
		tokens:     float64(messagesPerMinute),
		lastUpdate: time.Now(),
	}
}

// Allow checks if a message can be sent
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastUpdate).Minutes()
	rl.lastUpdate = now

	rl.tokens += float64(rl.rate) * elapsed
	if rl.tokens > float64(rl.bucketSize) {
		rl.tokens = float64(rl.bucketSize)
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// DedupLimiter suppresses identical notifications within a time window
type DedupLimiter struct {
	sent   map[string]time.Time
	window time.Duration
	mu     sync.Mutex
}

// NewDedupLimiter creates a new deduplication limiter
func NewDedupLimiter(window time.Duration) *DedupLimiter {
	return &DedupLimiter{
		sent:   make(map[string]time.Time),
		window: window,
	}
}

// CanSend checks if a message with this key is not a recent duplicate
func (dl *DedupLimiter) CanSend(key string) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	now := time.Now()
	if sentAt, exists := dl.sent[key]; exists {
		if now.Sub(sentAt) < dl.window {
			return false
		}
	}
	dl.sent[key] = now
	return true
}

// Cleanup removes expired entries
func (dl *DedupLimiter) Cleanup() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	now := time.Now()
	for key, sentAt := range dl.sent {
		if now.Sub(sentAt) > dl.window {
			delete(dl.sent, key)
		}
	}
}

// BotOptions contains optional configuration for the bot
type BotOptions struct {
	RateLimiter  *RateLimiter
	DedupLimiter *DedupLimiter
	BotAPI       BotAPI
	MFATimeout   time.Duration
}

// Bot is the Telegram front end: it drives account linking conversations
// and serves the cached game-data commands.
type Bot struct {
	enabled     bool
	region      string
	rateLimiter *RateLimiter
	dedup       *DedupLimiter
	api         BotAPI
	mfaTimeout  time.Duration

	accounts *account.Service
	gameData *valapi.Client
	store    store.Store
	logger   *logging.Logger

	sessions   map[int64]*UserSession
	sessionsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	msgChan chan Message
}

// NewBot creates the Telegram bot. region is the default account region
// for new links.
func NewBot(enabled bool, region string, accounts *account.Service, gameData *valapi.Client, st store.Store, logger *logging.Logger, opts *BotOptions) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bot{
		enabled:    enabled,
		region:     region,
		accounts:   accounts,
		gameData:   gameData,
		store:      st,
		logger:     logger,
		sessions:   make(map[int64]*UserSession),
		ctx:        ctx,
		cancel:     cancel,
		msgChan:    make(chan Message, 100),
		mfaTimeout: 2 * time.Minute,
	}

	if opts != nil {
		if opts.RateLimiter != nil {
			b.rateLimiter = opts.RateLimiter
		}
		if opts.DedupLimiter != nil {
			b.dedup = opts.DedupLimiter
		}
		if opts.BotAPI != nil {
			b.api = opts.BotAPI
		}
		if opts.MFATimeout > 0 {
			b.mfaTimeout = opts.MFATimeout
		}
	}

	if b.rateLimiter == nil {
		b.rateLimiter = NewRateLimiter(20)
	}
	if b.dedup == nil {
		b.dedup = NewDedupLimiter(5 * time.Minute)
	}

	return b
}

// Start starts the bot loops
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}
	if b.api == nil {
		return fmt.Errorf("bot API is required when the bot is enabled")
	}

	b.wg.Add(1)
	go b.processMessages()

	b.wg.Add(1)
	go b.pollUpdates()

	b.wg.Add(1)
	go b.sessionCleanup()

	if b.logger != nil {
		b.logger.Info("telegram bot started", "default_region", b.region)
	}
	return nil
}

// Stop gracefully stops the bot
func (b *Bot) Stop() error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for bot to stop")
	}
}

// processMessages dispatches incoming messages to the handlers
func (b *Bot) processMessages() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-b.msgChan:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

// pollUpdates polls the Telegram API and forwards updates to the message channel.
func (b *Bot) pollUpdates() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		updates, err := b.api.GetUpdates()
		if err != nil {
			time.Sleep(2 * time.Second)
			continue
		}

		if len(updates) == 0 {
			time.Sleep(250 * time.Millisecond)
			continue
		}

		for _, msg := range updates {
			select {
			case <-b.ctx.Done():
				return
			case b.msgChan <- msg:
			default:
				// Drop if buffer is full to avoid blocking
			}
		}
	}
}

// sessionCleanup expires stale conversation state, including abandoned
// multi-factor challenges.
func (b *Bot) sessionCleanup() {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.CleanupSessions(30 * time.Minute)
			b.dedup.Cleanup()
		}
	}
}

// send delivers text to a chat, subject to the outgoing rate limit.
func (b *Bot) send(chatID int64, text string) {
	if !b.enabled || b.api == nil {
		return
	}
	if !b.rateLimiter.Allow() {
		if b.logger != nil {
			b.logger.Warn("outgoing message dropped by rate limit", "chat_id", chatID)
		}
		return
	}
	if sender, ok := b.api.(ParseModeSender); ok {
		_ = sender.SendMessageWithParseMode(chatID, text, "HTML")
		return
	}
	_ = b.api.SendMessage(chatID, text)
}

// Notify sends a deduplicated out-of-band notice to a chat.
func (b *Bot) Notify(chatID int64, key, text string) {
	if !b.dedup.CanSend(fmt.Sprintf("notify:%d:%s", chatID, key)) {
		return
	}
	b.send(chatID, text)
}

// GetSession gets or creates a user conversation session
func (b *Bot) GetSession(userID int64) *UserSession {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()

	if session, ok := b.sessions[userID]; ok {
		session.UpdatedAt = time.Now()
		return session
	}

	session := &UserSession{
		UserID:    userID,
		State:     StateIdle,
		UpdatedAt: time.Now(),
	}
	b.sessions[userID] = session
	return session
}

// setSessionState transitions a conversation to a new state
func (b *Bot) setSessionState(userID int64, state State, pending *pendingLogin) {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()

	session, ok := b.sessions[userID]
	if !ok {
		session = &UserSession{UserID: userID}
		b.sessions[userID] = session
	}
	session.State = state
	session.Pending = pending
	session.UpdatedAt = time.Now()
}

// ClearSession resets a conversation to idle
func (b *Bot) ClearSession(userID int64) {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()
	delete(b.sessions, userID)
}

// CleanupSessions removes conversations idle for longer than maxAge
func (b *Bot) CleanupSessions(maxAge time.Duration) {
	b.sessionsMu.Lock()
	defer b.sessionsMu.Unlock()

	now := time.Now()
	for userID, session := range b.sessions {
		if now.Sub(session.UpdatedAt) > maxAge {
			delete(b.sessions, userID)
		}
	}
}

// IsEnabled returns whether the bot is enabled
func (b *Bot) IsEnabled() bool {
	return b.enabled
}
