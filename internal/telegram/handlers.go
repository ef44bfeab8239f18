package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/valorwatch/valorwatch/internal/account"
	verrors "github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/valapi"
)

const interactionTimeout = 45 * time.Second

// handleMessage routes one incoming message through the conversation FSM.
func (b *Bot) handleMessage(msg Message) {
	ctx, cancel := context.WithTimeout(b.ctx, interactionTimeout)
	defer cancel()
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	session := b.GetSession(msg.ChatID)
	text := strings.TrimSpace(msg.Text)
	locale := b.userLocale(ctx, msg.ChatID)

	switch session.State {
	case StateAwaitingCredentials:
		if !strings.HasPrefix(text, "/") {
			b.handleCredentials(ctx, msg.ChatID, locale, text)
			return
		}
	case StateAwaitingMFACode:
		if !strings.HasPrefix(text, "/") || strings.HasPrefix(text, "/code") {
			b.handleMFACode(ctx, msg.ChatID, locale, session, text)
			return
		}
	}

	cmd, args := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		b.send(msg.ChatID, tr(locale, "help"))
	case "/cancel":
		b.ClearSession(msg.ChatID)
		b.send(msg.ChatID, tr(locale, "cancelled"))
	case "/link":
		region := b.region
		if len(args) > 0 {
			region = strings.ToLower(args[0])
		}
		b.setSessionState(msg.ChatID, StateAwaitingCredentials, &pendingLogin{
			session:   b.accounts.NewSession(msg.ChatID, region),
			startedAt: time.Now(),
		})
		b.send(msg.ChatID, tr(locale, "link_prompt"))
	case "/code":
		b.send(msg.ChatID, tr(locale, "no_pending_code"))
	case "/accounts":
		b.handleAccounts(ctx, msg.ChatID, locale)
	case "/main":
		b.handleMain(ctx, msg.ChatID, locale, args)
	case "/unlink":
		b.handleUnlink(ctx, msg.ChatID, locale, args)
	case "/store":
		b.handleGameData(ctx, msg.ChatID, locale, valapi.OpStorefront, args)
	case "/wallet":
		b.handleGameData(ctx, msg.ChatID, locale, valapi.OpWallet, args)
	case "/bundles":
		b.handleGameData(ctx, msg.ChatID, locale, valapi.OpBundles, args)
	case "/loadout":
		b.handleGameData(ctx, msg.ChatID, locale, valapi.OpLoadout, args)
	case "/locale":
		b.handleLocale(ctx, msg.ChatID, locale, args)
	default:
		b.send(msg.ChatID, tr(locale, "unknown_command"))
	}
}

func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := fields[0]
	// Strip the @botname suffix of group-chat commands.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

// handleCredentials consumes the "username password" message of a /link
// conversation and runs the interactive login.
func (b *Bot) handleCredentials(ctx context.Context, chatID int64, locale, text string) {
	session := b.GetSession(chatID)
	pending := session.Pending
	if pending == nil || pending.session == nil {
		b.ClearSession(chatID)
		b.send(chatID, tr(locale, "link_restart"))
		return
	}

	fields := strings.Fields(text)
	if len(fields) != 2 {
		b.send(chatID, tr(locale, "link_prompt"))
		return
	}

	result, err := pending.session.Authorize(ctx, fields[0], fields[1])
	if err != nil {
		b.ClearSession(chatID)
		b.send(chatID, tr(locale, "upstream_error"))
		return
	}

	switch result.Status {
	case riot.LoginMultiFactor:
		pending.challenge = result.Challenge
		pending.deadline = time.Now().Add(b.mfaTimeout)
		b.setSessionState(chatID, StateAwaitingMFACode, pending)
		b.send(chatID, tr(locale, "mfa_prompt", result.Challenge.Email))
	case riot.LoginAuthenticated:
		b.finishLink(ctx, chatID, locale, pending.session)
	default:
		b.ClearSession(chatID)
		b.send(chatID, tr(locale, "bad_credentials"))
	}
}

// handleMFACode completes a pending multi-factor challenge. The challenge
// is time-boxed; a late code requires restarting /link.
func (b *Bot) handleMFACode(ctx context.Context, chatID int64, locale string, session *UserSession, text string) {
	pending := session.Pending
	if pending == nil || pending.session == nil {
		b.ClearSession(chatID)
		b.send(chatID, tr(locale, "no_pending_code"))
		return
	}

	if time.Now().After(pending.deadline) {
		b.ClearSession(chatID)
		waited := time.Since(pending.startedAt)
		if b.logger != nil {
			err := &verrors.ErrMultiFactorTimeout{Waited: waited}
			b.logger.InfoCtx(ctx, "multi-factor challenge expired",
				"chat_id", chatID, "error", err.Error())
		}
		b.send(chatID, tr(locale, "mfa_timeout"))
		return
	}

	code := text
	if cmd, args := splitCommand(text); cmd == "/code" {
		if len(args) == 0 {
			b.send(chatID, tr(locale, "mfa_prompt_short"))
			return
		}
		code = args[0]
	}

	result, err := pending.session.AuthorizeMultiFactor(ctx, code)
	if err != nil {
		b.ClearSession(chatID)
		b.send(chatID, tr(locale, "upstream_error"))
		return
	}

	if result.Status == riot.LoginAuthenticated {
		b.finishLink(ctx, chatID, locale, pending.session)
		return
	}

	// Wrong code: the challenge stays open until the deadline.
	b.send(chatID, tr(locale, "mfa_invalid_code"))
}

func (b *Bot) finishLink(ctx context.Context, chatID int64, locale string, s *riot.Session) {
	b.ClearSession(chatID)

	err := b.accounts.SaveNewSession(ctx, s)
	var dup *verrors.ErrDuplicateCredential
	if errors.As(err, &dup) {
		if err := b.accounts.Relink(ctx, s); err != nil {
			b.send(chatID, tr(locale, "store_error"))
			return
		}
		b.send(chatID, tr(locale, "relinked", s.RiotID()))
		return
	}
	if err != nil {
		b.send(chatID, tr(locale, "store_error"))
		return
	}
	b.send(chatID, tr(locale, "linked", s.RiotID(), s.Region()))
}

func (b *Bot) handleAccounts(ctx context.Context, chatID int64, locale string) {
	manager, ok := b.loadManager(ctx, chatID, locale)
	if !ok {
		return
	}

	sessions := manager.All()
	failed := manager.Failed()
	if len(sessions) == 0 && len(failed) == 0 {
		b.send(chatID, tr(locale, "no_accounts"))
		return
	}

	main := manager.First()
	b.send(chatID, formatAccounts(locale, sessions, main, failed))
}

func (b *Bot) handleMain(ctx context.Context, chatID int64, locale string, args []string) {
	if len(args) == 0 {
		b.send(chatID, tr(locale, "main_usage"))
		return
	}
	manager, ok := b.loadManager(ctx, chatID, locale)
	if !ok {
		return
	}

	target := b.findSession(manager, args[0])
	if target == nil {
		b.send(chatID, tr(locale, "account_not_found", args[0]))
		return
	}
	if err := b.store.SetMainAccount(ctx, chatID, target.PUUID()); err != nil {
		b.send(chatID, tr(locale, "store_error"))
		return
	}
	b.send(chatID, tr(locale, "main_set", target.RiotID()))
}

func (b *Bot) handleUnlink(ctx context.Context, chatID int64, locale string, args []string) {
	if len(args) == 0 {
		b.send(chatID, tr(locale, "unlink_usage"))
		return
	}
	manager, ok := b.loadManager(ctx, chatID, locale)
	if !ok {
		return
	}

	puuid := args[0]
	if target := b.findSession(manager, args[0]); target != nil {
		puuid = target.PUUID()
	}

	removed, err := b.accounts.Unlink(ctx, chatID, puuid)
	if err != nil {
		b.send(chatID, tr(locale, "store_error"))
		return
	}
	if !removed {
		b.send(chatID, tr(locale, "account_not_found", args[0]))
		return
	}
	b.send(chatID, tr(locale, "unlinked"))
}

func (b *Bot) handleLocale(ctx context.Context, chatID int64, locale string, args []string) {
	if len(args) == 0 {
		b.send(chatID, tr(locale, "locale_usage"))
		return
	}
	tag := args[0]
	if _, ok := catalogs[tag]; !ok {
		b.send(chatID, tr(locale, "locale_unknown", tag))
		return
	}
	if _, err := b.store.CreateUser(ctx, chatID, tag); err != nil {
		b.send(chatID, tr(locale, "store_error"))
		return
	}
	if err := b.store.UpdateUserLocale(ctx, chatID, tag); err != nil {
		b.send(chatID, tr(locale, "store_error"))
		return
	}
	b.send(chatID, tr(tag, "locale_set"))
}

// handleGameData serves a cached game-data command against the main
// account, or a specific one when named.
func (b *Bot) handleGameData(ctx context.Context, chatID int64, locale string, op valapi.Operation, args []string) {
	manager, ok := b.loadManager(ctx, chatID, locale)
	if !ok {
		return
	}

	target := manager.First()
	if len(args) > 0 {
		target = b.findSession(manager, args[0])
	}
	if target == nil {
		b.send(chatID, tr(locale, "no_accounts"))
		return
	}

	body, err := b.gameData.Call(ctx, target, op)
	if err != nil {
		b.send(chatID, b.describeError(locale, err))
		return
	}

	switch op {
	case valapi.OpWallet:
		b.send(chatID, formatWallet(locale, target.RiotID(), body))
	case valapi.OpStorefront:
		b.send(chatID, formatStorefront(locale, target.RiotID(), body))
	case valapi.OpBundles:
		b.send(chatID, formatBundles(locale, body))
	case valapi.OpLoadout:
		b.send(chatID, formatLoadout(locale, target.RiotID(), body))
	}
}

func (b *Bot) loadManager(ctx context.Context, chatID int64, locale string) (*account.Manager, bool) {
	manager := b.accounts.Load(ctx, chatID)
	if err := manager.WaitUntilReady(ctx); err != nil {
		b.send(chatID, tr(locale, "upstream_error"))
		return nil, false
	}
	return manager, true
}

// findSession resolves an account reference: a Riot ID (Name#TAG), a bare
// game name, or a PUUID.
func (b *Bot) findSession(manager *account.Manager, ref string) *riot.Session {
	if s := manager.Get(ref); s != nil {
		return s
	}
	for _, s := range manager.All() {
		if strings.EqualFold(s.RiotID(), ref) {
			return s
		}
		if gameName, _, found := strings.Cut(s.RiotID(), "#"); found && strings.EqualFold(gameName, ref) {
			return s
		}
	}
	return nil
}

func (b *Bot) describeError(locale string, err error) string {
	var unavailable *verrors.ErrSessionUnavailable
	var reauthFailed *verrors.ErrReauthorizationFailed
	var limited *verrors.ErrRateLimited

	switch {
	case errors.As(err, &unavailable), errors.As(err, &reauthFailed):
		return tr(locale, "session_expired")
	case errors.As(err, &limited):
		return tr(locale, "rate_limited")
	default:
		return tr(locale, "upstream_error")
	}
}

func (b *Bot) userLocale(ctx context.Context, chatID int64) string {
	if b.store == nil {
		return defaultLocale
	}
	user, err := b.store.GetUser(ctx, chatID)
	if err != nil || user == nil || user.Locale == "" {
		return defaultLocale
	}
	if _, ok := catalogs[user.Locale]; !ok {
		return defaultLocale
	}
	return user.Locale
}
