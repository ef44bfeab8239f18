package models

import "time"

// User is a bot user who may link one or more Riot accounts.
type User struct {
	// ID is the chat platform user ID.
	ID     int64  `json:"id"`
	Locale string `json:"locale"`
	// MainPUUID optionally overrides which linked account is "main".
	// Empty means the oldest linked account is main.
	MainPUUID string    `json:"main_puuid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialRecord is the persisted token bundle for one linked account.
// All token fields are stored encrypted; the store never sees plaintext.
// A (PUUID, OwnerID) pair is unique.
type CredentialRecord struct {
	PUUID    string `json:"puuid"`
	OwnerID  int64  `json:"owner_id"`
	GameName string `json:"game_name"`
	TagLine  string `json:"tag_line"`
	Region   string `json:"region"`
	Scope    string `json:"scope"`
	// TokenType is the OAuth token type, in practice always "Bearer".
	TokenType        string `json:"token_type"`
	AccessToken      string `json:"-"`
	IDToken          string `json:"-"`
	EntitlementToken string `json:"-"`
	SSIDCookie       string `json:"-"`
	// ExpiresAt is the access token expiry in UTC epoch seconds.
	ExpiresAt int64     `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RiotID renders the display name as shown in game.
func (c *CredentialRecord) RiotID() string {
	if c.TagLine == "" {
		return c.GameName
	}
	return c.GameName + "#" + c.TagLine
}

// Expired reports whether the record's access token has expired at the
// given instant. The boundary counts as expired.
func (c *CredentialRecord) Expired(now time.Time) bool {
	return now.UTC().Unix() >= c.ExpiresAt
}
