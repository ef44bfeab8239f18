package riot

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry extracts the exp claim from an access token without verifying
// the signature; verification belongs to the issuer, we only need the
// expiry. Falls back to now+fallback when the claim is absent.
func tokenExpiry(token string, fallback time.Duration) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Unix()
		}
	}
	return time.Now().UTC().Add(fallback).Unix()
}

// tokenSubject extracts the sub claim (the PUUID) from an access token.
func tokenSubject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// idTokenName extracts the in-game display name from an ID token. The acct
// claim carries game_name and tag_line.
func idTokenName(token string) (gameName, tagLine string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", ""
	}
	acct, ok := claims["acct"].(map[string]interface{})
	if !ok {
		return "", ""
	}
	gameName, _ = acct["game_name"].(string)
	tagLine, _ = acct["tag_line"].(string)
	return gameName, tagLine
}

// fragmentTokens holds the token material carried in the redirect URI
// fragment of a successful authorization response.
type fragmentTokens struct {
	AccessToken string
	IDToken     string
	ExpiresIn   int64
}

// parseFragmentTokens parses "https://.../opt_in#access_token=...&id_token=...".
func parseFragmentTokens(uri string) (*fragmentTokens, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}

	fragment := parsed.Fragment
	if fragment == "" {
		// Some responses carry the parameters in the query instead.
		fragment = parsed.RawQuery
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return nil, err
	}

	tokens := &fragmentTokens{
		AccessToken: values.Get("access_token"),
		IDToken:     values.Get("id_token"),
	}
	if raw := values.Get("expires_in"); raw != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			tokens.ExpiresIn = n
		}
	}
	return tokens, nil
}
