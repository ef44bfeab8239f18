package telegram

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valorwatch/valorwatch/internal/account"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/secret"
	"github.com/valorwatch/valorwatch/internal/store"
	"github.com/valorwatch/valorwatch/internal/valapi"
)

const testChat int64 = 4242

type mockAPI struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockAPI) SendMessage(chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockAPI) GetUpdates() ([]Message, error) {
	return nil, nil
}

func (m *mockAPI) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

// fakeRiot scripts the auth edge and serves wallet data. Each PUT to the
// authorization endpoint consumes the next queued outcome.
type fakeRiot struct {
	srv *httptest.Server

	mu        sync.Mutex
	authQueue []string // "ok", "mfa", "fail"
}

func (f *fakeRiot) queue(outcomes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authQueue = append(f.authQueue, outcomes...)
}

func (f *fakeRiot) nextOutcome() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.authQueue) == 0 {
		return "ok"
	}
	out := f.authQueue[0]
	f.authQueue = f.authQueue[1:]
	return out
}

func newFakeRiot(t *testing.T) *fakeRiot {
	t.Helper()
	f := &fakeRiot{}

	signed := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
		require.NoError(t, err)
		return token
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/authorization", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			fmt.Fprint(w, `{"type":"auth"}`)
			return
		}
		switch f.nextOutcome() {
		case "mfa":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type": "multifactor",
				"multifactor": map[string]interface{}{
					"email": "p***@example.com", "method": "email", "multiFactorCodeLength": 6,
				},
			})
		case "fail":
			fmt.Fprint(w, `{"type":"auth_failure","error":"auth_failure"}`)
		default:
			http.SetCookie(w, &http.Cookie{Name: "ssid", Value: "ssid-1", Path: "/"})
			uri := "https://playvalorant.com/opt_in#access_token=" +
				signed(jwt.MapClaims{"sub": "puuid-1", "exp": time.Now().Add(time.Hour).Unix()}) +
				"&id_token=" +
				signed(jwt.MapClaims{"acct": map[string]interface{}{"game_name": "Player", "tag_line": "EUW"}}) +
				"&expires_in=3600"
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type":     "response",
				"response": map[string]interface{}{"parameters": map[string]interface{}{"uri": uri}},
			})
		}
	})
	mux.HandleFunc("/api/token/v1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entitlements_token":"ent-1"}`)
	})
	mux.HandleFunc("/v1/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"riotClientVersion":"release-08.01","riotClientBuild":"7"}}`)
	})
	mux.HandleFunc("/store/v1/wallet/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"Balances": map[string]int64{
				"85ad13f7-3d1b-5128-9eb2-7cd8ee0b5741": 475,
				"e59aa87c-4cbf-517a-5983-6e81511be9b7": 20,
				"85ca954a-41f2-ce94-9b45-8ca3dd39a00d": 3000,
			},
		})
	})
	mux.HandleFunc("/store/v1/offers/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Offers":[{},{},{}]}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type botEnv struct {
	bot  *Bot
	api  *mockAPI
	st   store.Store
	svc  *account.Service
	rc   *riot.Client
	fake *fakeRiot
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()
	fake := newFakeRiot(t)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	secrets, err := secret.NewStore([][]byte{key})
	require.NoError(t, err)

	logger := logging.New(logging.WithOutput(io.Discard))
	endpoints := riot.Endpoints{
		AuthBase:         fake.srv.URL,
		EntitlementsBase: fake.srv.URL,
		VersionURL:       fake.srv.URL + "/v1/version",
	}
	version := riot.NewClientVersion(endpoints.VersionURL, 5*time.Second, logger, nil)
	rc := riot.NewClient(endpoints, version, logger, nil,
		riot.WithUTLS(false), riot.WithRetryDelay(0))

	svc := account.NewService(st, secrets, rc, logger)
	gameData := valapi.New(fake.srv.URL, rc, valapi.NewCache(nil), logger, nil, valapi.Options{})

	api := &mockAPI{}
	bot := NewBot(true, "eu", svc, gameData, st, logger, &BotOptions{BotAPI: api})
	return &botEnv{bot: bot, api: api, st: st, svc: svc, rc: rc, fake: fake}
}

func (e *botEnv) message(text string) {
	e.bot.handleMessage(Message{ChatID: testChat, Text: text, Timestamp: time.Now()})
}

func TestLinkFlow_Success(t *testing.T) {
	e := newBotEnv(t)

	e.message("/link")
	assert.Contains(t, e.api.last(), "username and password")

	e.message("alice secret-pw")
	assert.Contains(t, e.api.last(), "Linked Player#EUW")

	rec, err := e.st.GetCredential(context.Background(), "puuid-1", testChat)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Player", rec.GameName)
}

func TestLinkFlow_MultiFactor(t *testing.T) {
	e := newBotEnv(t)
	e.fake.queue("mfa", "ok")

	e.message("/link")
	e.message("alice secret-pw")
	assert.Contains(t, e.api.last(), "two-factor code")

	e.message("123456")
	assert.Contains(t, e.api.last(), "Linked Player#EUW")
}

func TestLinkFlow_MFACodeViaCommand(t *testing.T) {
	e := newBotEnv(t)
	e.fake.queue("mfa", "ok")

	e.message("/link")
	e.message("alice secret-pw")
	e.message("/code 123456")
	assert.Contains(t, e.api.last(), "Linked Player#EUW")
}

func TestLinkFlow_MFATimeout(t *testing.T) {
	e := newBotEnv(t)
	e.bot.mfaTimeout = -time.Second // already expired when the code arrives
	e.fake.queue("mfa")

	e.message("/link")
	e.message("alice secret-pw")
	e.message("123456")

	assert.Contains(t, e.api.last(), "code expired")
	assert.Equal(t, StateIdle, e.bot.GetSession(testChat).State)
}

func TestLinkFlow_InvalidCodeKeepsChallengeOpen(t *testing.T) {
	e := newBotEnv(t)
	e.fake.queue("mfa", "fail", "ok")

	e.message("/link")
	e.message("alice secret-pw")

	e.message("000000")
	assert.Contains(t, e.api.last(), "not accepted")
	assert.Equal(t, StateAwaitingMFACode, e.bot.GetSession(testChat).State)

	e.message("123456")
	assert.Contains(t, e.api.last(), "Linked Player#EUW")
}

func TestLinkFlow_BadCredentials(t *testing.T) {
	e := newBotEnv(t)
	e.fake.queue("fail")

	e.message("/link")
	e.message("alice wrong-pw")
	assert.Contains(t, e.api.last(), "rejected those credentials")
	assert.Equal(t, StateIdle, e.bot.GetSession(testChat).State)
}

func TestLinkFlow_Cancel(t *testing.T) {
	e := newBotEnv(t)

	e.message("/link")
	e.message("/cancel")
	assert.Contains(t, e.api.last(), "Cancelled")

	e.message("/accounts")
	assert.Contains(t, e.api.last(), "No linked accounts")
}

func TestWalletCommand(t *testing.T) {
	e := newBotEnv(t)

	e.message("/link")
	e.message("alice secret-pw")

	e.message("/wallet")
	last := e.api.last()
	assert.Contains(t, last, "Player#EUW")
	assert.Contains(t, last, "Valorant Points: 475")
	assert.Contains(t, last, "Kingdom Credits: 3000")
}

func TestBundlesCommand(t *testing.T) {
	e := newBotEnv(t)

	e.message("/link")
	e.message("alice secret-pw")

	e.message("/bundles")
	assert.Contains(t, e.api.last(), "3 bundles")
}

func TestAccountsAndUnlink(t *testing.T) {
	e := newBotEnv(t)

	e.message("/link")
	e.message("alice secret-pw")

	e.message("/accounts")
	assert.Contains(t, e.api.last(), "Player#EUW")
	assert.Contains(t, e.api.last(), "main")

	e.message("/unlink Player#EUW")
	assert.Contains(t, e.api.last(), "unlinked")

	e.message("/accounts")
	assert.Contains(t, e.api.last(), "No linked accounts")
}

func TestGameDataWithoutAccounts(t *testing.T) {
	e := newBotEnv(t)
	_, err := e.st.CreateUser(context.Background(), testChat, "")
	require.NoError(t, err)

	e.message("/store")
	assert.Contains(t, e.api.last(), "No linked accounts")
}

func TestLocaleCommand(t *testing.T) {
	e := newBotEnv(t)

	e.message("/locale ru-RU")
	assert.Contains(t, e.api.last(), "Язык обновлён")

	e.message("/help")
	assert.Contains(t, e.api.last(), "Команды")

	e.message("/locale xx-XX")
	assert.Contains(t, e.api.last(), "не поддерживается")
}

func TestUnknownCommand(t *testing.T) {
	e := newBotEnv(t)
	e.message("/frobnicate")
	assert.Contains(t, e.api.last(), "Unknown command")
}

func TestSplitCommand(t *testing.T) {
	cmd, args := splitCommand("/wallet@valorwatch_bot Player#EUW")
	assert.Equal(t, "/wallet", cmd)
	assert.Equal(t, []string{"Player#EUW"}, args)

	cmd, args = splitCommand("   ")
	assert.Empty(t, cmd)
	assert.Nil(t, args)
}

func TestNotifyDeduplicates(t *testing.T) {
	e := newBotEnv(t)

	e.bot.Notify(testChat, "store-reset", "Your store has rotated")
	e.bot.Notify(testChat, "store-reset", "Your store has rotated")

	e.api.mu.Lock()
	defer e.api.mu.Unlock()
	assert.Len(t, e.api.sent, 1)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestDedupLimiter(t *testing.T) {
	dl := NewDedupLimiter(time.Hour)
	assert.True(t, dl.CanSend("k"))
	assert.False(t, dl.CanSend("k"))
	assert.True(t, dl.CanSend("other"))
}

func TestStartRequiresAPIWhenEnabled(t *testing.T) {
	b := NewBot(true, "eu", nil, nil, nil, nil, nil)
	err := b.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bot API"))

	disabled := NewBot(false, "eu", nil, nil, nil, nil, nil)
	require.NoError(t, disabled.Start())
	require.NoError(t, disabled.Stop())
}
