package riot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	verrors "github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/models"
)

// State is the session lifecycle state.
type State string

const (
	StateUnauthenticated  State = "unauthenticated"
	StateAuthenticating   State = "authenticating"
	StateAuthenticated    State = "authenticated"
	StateReauthenticating State = "reauthenticating"
	StateUnavailable      State = "unavailable"
)

// LoginStatus is the outcome variant of an interactive login step.
type LoginStatus int

const (
	LoginAuthenticated LoginStatus = iota
	LoginMultiFactor
	LoginFailed
)

// MultiFactorChallenge describes a pending one-time-code step. The caller
// collects the code out of band and completes the login with
// AuthorizeMultiFactor.
type MultiFactorChallenge struct {
	Email      string
	Method     string
	CodeLength int
}

// LoginResult is the three-variant outcome of Authorize and
// AuthorizeMultiFactor: Authenticated, MultiFactor (challenge pending), or
// Failed (Err holds the provider rejection).
type LoginResult struct {
	Status    LoginStatus
	Challenge *MultiFactorChallenge
	Err       error
}

// RefreshFunc is invoked synchronously after a successful silent refresh,
// before Reauthorize returns, so new tokens are persisted write-through.
// The record carries plaintext tokens; the callee encrypts them.
type RefreshFunc func(ctx context.Context, rec *models.CredentialRecord) error

const maxReauthAttempts = 4

// Session is the in-memory representation of one linked account's live
// upstream session. All state transitions happen under a per-session mutex;
// two Reauthorize calls on the same session never interleave, while
// sessions of different accounts refresh independently.
type Session struct {
	client *Client
	http   *http.Client
	jar    http.CookieJar
	logger *logging.Logger

	mu        sync.Mutex
	state     State
	available bool

	ownerID   int64
	puuid     string
	gameName  string
	tagLine   string
	region    string
	scope     string
	tokenType string
	createdAt time.Time

	accessToken      string
	idToken          string
	entitlementToken string
	ssidCookie       string
	expiresAt        int64

	onRefresh RefreshFunc
}

// NewSession creates an unauthenticated session for an interactive login.
func NewSession(client *Client, ownerID int64, region string, logger *logging.Logger) *Session {
	httpClient, jar := client.newHTTPClient()
	return &Session{
		client:    client,
		http:      httpClient,
		jar:       jar,
		logger:    logger,
		state:     StateUnauthenticated,
		ownerID:   ownerID,
		region:    region,
		createdAt: time.Now().UTC(),
	}
}

// NewSessionFromRecord hydrates a session from a decrypted credential
// record. The stored session cookie is loaded into the jar so silent
// refresh can run without a password.
func NewSessionFromRecord(client *Client, rec *models.CredentialRecord, logger *logging.Logger) *Session {
	s := NewSession(client, rec.OwnerID, rec.Region, logger)
	s.state = StateAuthenticated
	s.available = true
	s.puuid = rec.PUUID
	s.gameName = rec.GameName
	s.tagLine = rec.TagLine
	s.scope = rec.Scope
	s.tokenType = rec.TokenType
	s.accessToken = rec.AccessToken
	s.idToken = rec.IDToken
	s.entitlementToken = rec.EntitlementToken
	s.ssidCookie = rec.SSIDCookie
	s.expiresAt = rec.ExpiresAt
	s.createdAt = rec.CreatedAt

	if rec.SSIDCookie != "" {
		if u, err := url.Parse(client.endpoints.AuthBase); err == nil {
			s.jar.SetCookies(u, []*http.Cookie{{
				Name:   "ssid",
				Value:  rec.SSIDCookie,
				Path:   "/",
				Secure: u.Scheme == "https",
			}})
		}
	}
	return s
}

// AttachOnRefresh registers the write-through persistence hook. Must be set
// before the first Reauthorize.
func (s *Session) AttachOnRefresh(fn RefreshFunc) {
	s.mu.Lock()
	s.onRefresh = fn
	s.mu.Unlock()
}

// IsAvailable reports whether the session may still be refreshed
// automatically. Once false it stays false until a fresh interactive login.
func (s *Session) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Expired reports whether the access token has expired at the given
// instant. The boundary counts as expired.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.UTC().Unix() >= s.expiresAt
}

// PUUID returns the stable account identifier.
func (s *Session) PUUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puuid
}

// OwnerID returns the owning front-end user ID.
func (s *Session) OwnerID() int64 {
	return s.ownerID
}

// RiotID renders the display name as shown in game.
func (s *Session) RiotID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tagLine == "" {
		return s.gameName
	}
	return s.gameName + "#" + s.tagLine
}

// Region returns the account's home region.
func (s *Session) Region() string {
	return s.region
}

// CreatedAt returns the link creation time used for account ordering.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Tokens returns the current access and entitlement tokens for an
// authenticated API call.
func (s *Session) Tokens() (accessToken, entitlementToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.entitlementToken
}

// Record snapshots the session into a credential record with plaintext
// tokens. The caller is responsible for encrypting before persistence.
func (s *Session) Record() *models.CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() *models.CredentialRecord {
	return &models.CredentialRecord{
		PUUID:            s.puuid,
		OwnerID:          s.ownerID,
		GameName:         s.gameName,
		TagLine:          s.tagLine,
		Region:           s.region,
		Scope:            s.scope,
		TokenType:        s.tokenType,
		AccessToken:      s.accessToken,
		IDToken:          s.idToken,
		EntitlementToken: s.entitlementToken,
		SSIDCookie:       s.ssidCookie,
		ExpiresAt:        s.expiresAt,
		CreatedAt:        s.createdAt,
	}
}

// authResponse is the provider's authorization endpoint payload.
type authResponse struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Response struct {
		Parameters struct {
			URI string `json:"uri"`
		} `json:"parameters"`
	} `json:"response"`
	Multifactor struct {
		Email                 string `json:"email"`
		Method                string `json:"method"`
		MultiFactorCodeLength int    `json:"multiFactorCodeLength"`
	} `json:"multifactor"`
}

// Authorize performs the interactive login with username and password.
// A transport-level failure is returned as an error; provider outcomes come
// back in the LoginResult so the caller can branch without type sniffing.
func (s *Session) Authorize(ctx context.Context, username, password string) (*LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAuthenticating

	if err := s.initCookies(ctx); err != nil {
		s.state = StateUnauthenticated
		return nil, err
	}

	body := map[string]interface{}{
		"type":     "auth",
		"username": username,
		"password": password,
		"remember": true,
	}
	resp, status, err := s.putAuthorization(ctx, body)
	if err != nil {
		s.state = StateUnauthenticated
		return nil, err
	}

	switch {
	case resp != nil && resp.Type == "multifactor":
		// Cookie jar now holds the challenge state; the code completes it.
		return &LoginResult{
			Status: LoginMultiFactor,
			Challenge: &MultiFactorChallenge{
				Email:      resp.Multifactor.Email,
				Method:     resp.Multifactor.Method,
				CodeLength: resp.Multifactor.MultiFactorCodeLength,
			},
		}, nil
	case resp != nil && resp.Type == "response":
		if err := s.completeLoginLocked(ctx, resp.Response.Parameters.URI); err != nil {
			s.state = StateUnauthenticated
			return nil, err
		}
		s.state = StateAuthenticated
		s.available = true
		if s.client.metrics != nil {
			s.client.metrics.Logins.WithLabelValues("success").Inc()
		}
		return &LoginResult{Status: LoginAuthenticated}, nil
	default:
		s.state = StateUnauthenticated
		msg := ""
		if resp != nil {
			msg = resp.Error
		}
		if s.client.metrics != nil {
			s.client.metrics.Logins.WithLabelValues("failure").Inc()
		}
		return &LoginResult{
			Status: LoginFailed,
			Err:    &verrors.ErrAuthenticationFailed{StatusCode: status, Message: msg},
		}, nil
	}
}

// AuthorizeMultiFactor completes a pending multi-factor challenge with the
// user-supplied one-time code.
func (s *Session) AuthorizeMultiFactor(ctx context.Context, code string) (*LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := map[string]interface{}{
		"type":           "multifactor",
		"code":           code,
		"rememberDevice": true,
	}
	resp, _, err := s.putAuthorization(ctx, body)
	if err != nil {
		s.state = StateUnauthenticated
		return nil, err
	}

	if resp != nil && resp.Type == "response" {
		if err := s.completeLoginLocked(ctx, resp.Response.Parameters.URI); err != nil {
			s.state = StateUnauthenticated
			return nil, err
		}
		s.state = StateAuthenticated
		s.available = true
		if s.client.metrics != nil {
			s.client.metrics.Logins.WithLabelValues("success").Inc()
		}
		return &LoginResult{Status: LoginAuthenticated}, nil
	}

	s.state = StateUnauthenticated
	msg := ""
	if resp != nil {
		msg = resp.Error
	}
	if s.client.metrics != nil {
		s.client.metrics.Logins.WithLabelValues("invalid_code").Inc()
	}
	return &LoginResult{
		Status: LoginFailed,
		Err:    &verrors.ErrInvalidCode{Message: msg},
	}, nil
}

// Reauthorize refreshes tokens using only the stored session cookie. Up to
// four attempts: a 403 (stale fingerprint) triggers a fingerprint refresh
// for the first two occurrences, a 400 or transient failure is retried up
// to three times. Exhausting the budget marks the session permanently
// unavailable. On success the new credential record is persisted through
// the attached hook before this method returns.
func (s *Session) Reauthorize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reauthorizeLocked(ctx)
}

func (s *Session) reauthorizeLocked(ctx context.Context) error {
	if s.state == StateUnavailable {
		return &verrors.ErrSessionUnavailable{PUUID: s.puuid}
	}
	s.state = StateReauthenticating

	// The endpoint authenticates purely via the ssid cookie; the empty
	// username/password placeholders are part of the upstream protocol.
	body := map[string]interface{}{
		"type":     "auth",
		"username": "",
		"password": "",
		"remember": true,
	}

	fingerprintRefreshes := 0
	transientRetries := 0
	attempts := 0
	var lastErr error

	for attempts < maxReauthAttempts {
		attempts++

		resp, status, err := s.putAuthorization(ctx, body)
		switch {
		case err != nil:
			lastErr = &verrors.ErrUpstreamTransient{Err: err}
			if transientRetries < 3 {
				transientRetries++
				s.recordReauthAttempt("retry_transient")
				continue
			}
		case status == http.StatusForbidden:
			lastErr = &verrors.ErrUpstreamStatus{StatusCode: status}
			if fingerprintRefreshes < 2 {
				fingerprintRefreshes++
				s.recordReauthAttempt("retry_fingerprint")
				if _, err := s.client.version.Refresh(ctx); err != nil && s.logger != nil {
					s.logger.Warn("fingerprint refresh failed during reauth", "error", err.Error())
				}
				if !sleepCtx(ctx, s.client.retryDelay) {
					lastErr = ctx.Err()
					break
				}
				continue
			}
		case status == http.StatusBadRequest || status >= 500:
			lastErr = &verrors.ErrUpstreamTransient{StatusCode: status}
			if transientRetries < 3 {
				transientRetries++
				s.recordReauthAttempt("retry_transient")
				continue
			}
		case resp != nil && resp.Type == "response":
			if err := s.completeLoginLocked(ctx, resp.Response.Parameters.URI); err != nil {
				lastErr = err
				break
			}
			s.state = StateAuthenticated
			s.recordReauthAttempt("success")
			if s.onRefresh != nil {
				if err := s.onRefresh(ctx, s.recordLocked()); err != nil {
					return fmt.Errorf("persist refreshed credentials: %w", err)
				}
			}
			return nil
		default:
			msg := ""
			if resp != nil {
				msg = resp.Error
			}
			lastErr = &verrors.ErrAuthenticationFailed{StatusCode: status, Message: msg}
		}
		break
	}

	s.available = false
	s.state = StateUnavailable
	s.recordReauthAttempt("failure")
	if s.client.metrics != nil {
		s.client.metrics.SessionsUnavailable.Inc()
	}
	if s.logger != nil {
		s.logger.Warn("session permanently unavailable",
			"puuid", s.puuid, "attempts", attempts)
	}
	return &verrors.ErrReauthorizationFailed{PUUID: s.puuid, Attempts: attempts, Err: lastErr}
}

func (s *Session) recordReauthAttempt(outcome string) {
	if s.client.metrics != nil {
		s.client.metrics.ReauthAttempts.WithLabelValues(outcome).Inc()
	}
}

// initCookies primes the authorization cookie jar.
func (s *Session) initCookies(ctx context.Context) error {
	body := map[string]interface{}{
		"client_id":     authClientID,
		"nonce":         "1",
		"redirect_uri":  authRedirectURI,
		"response_type": "token id_token",
		"scope":         authScope,
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.endpoints.AuthBase+"/api/v1/authorization", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	s.client.authHeaders(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &verrors.ErrUpstreamStatus{StatusCode: resp.StatusCode}
	}
	return nil
}

// putAuthorization sends a PUT to the authorization endpoint. The parsed
// body is returned only for 200 responses.
func (s *Session) putAuthorization(ctx context.Context, body interface{}) (*authResponse, int, error) {
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		s.client.endpoints.AuthBase+"/api/v1/authorization", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	s.client.authHeaders(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, resp.StatusCode, err
	}
	return &parsed, resp.StatusCode, nil
}

// completeLoginLocked ingests the redirect URI of a successful grant:
// tokens, expiry, identity claims, entitlement token, session cookie.
func (s *Session) completeLoginLocked(ctx context.Context, uri string) error {
	tokens, err := parseFragmentTokens(uri)
	if err != nil {
		return err
	}
	if tokens.AccessToken == "" {
		return fmt.Errorf("authorization response carried no access token")
	}

	fallback := time.Hour
	if tokens.ExpiresIn > 0 {
		fallback = time.Duration(tokens.ExpiresIn) * time.Second
	}

	s.accessToken = tokens.AccessToken
	s.idToken = tokens.IDToken
	s.expiresAt = tokenExpiry(tokens.AccessToken, fallback)
	s.tokenType = "Bearer"
	s.scope = authScope

	if puuid := tokenSubject(tokens.AccessToken); puuid != "" {
		s.puuid = puuid
	}
	if gameName, tagLine := idTokenName(tokens.IDToken); gameName != "" {
		s.gameName = gameName
		s.tagLine = tagLine
	}

	if err := s.fetchEntitlement(ctx); err != nil {
		return err
	}

	s.captureSSID()
	return nil
}

// fetchEntitlement exchanges the access token for an entitlement token.
func (s *Session) fetchEntitlement(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.endpoints.EntitlementsBase+"/api/token/v1", bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	s.client.authHeaders(req)
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &verrors.ErrUpstreamStatus{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		EntitlementsToken string `json:"entitlements_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}
	if parsed.EntitlementsToken == "" {
		return fmt.Errorf("entitlements endpoint returned an empty token")
	}
	s.entitlementToken = parsed.EntitlementsToken
	return nil
}

func (s *Session) captureSSID() {
	u, err := url.Parse(s.client.endpoints.AuthBase)
	if err != nil {
		return
	}
	for _, c := range s.jar.Cookies(u) {
		if c.Name == "ssid" && c.Value != "" {
			s.ssidCookie = c.Value
			return
		}
	}
}

// sleepCtx waits for d or the context, reporting false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
