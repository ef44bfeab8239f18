package telegram

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valorwatch/valorwatch/internal/riot"
)

const defaultLocale = "en-US"

// Known in-game currency identifiers.
const (
	currencyVP        = "85ad13f7-3d1b-5128-9eb2-7cd8ee0b5741"
	currencyRadianite = "e59aa87c-4cbf-517a-5983-6e81511be9b7"
	currencyKingdom   = "85ca954a-41f2-ce94-9b45-8ca3dd39a00d"
)

var catalogs = map[string]map[string]string{
	"en-US": {
		"help": "Commands:\n" +
			"/link [region] - link a Riot account\n" +
			"/code <code> - submit a two-factor code\n" +
			"/accounts - list linked accounts\n" +
			"/main <account> - set the main account\n" +
			"/unlink <account> - remove a linked account\n" +
			"/store, /wallet, /bundles, /loadout - game data\n" +
			"/locale <tag> - change language\n" +
			"/cancel - abort the current action",
		"link_prompt":       "Send your Riot username and password in one message, separated by a space.",
		"link_restart":      "Linking was interrupted, send /link to start over.",
		"linked":            "Linked %s (%s).",
		"relinked":          "Refreshed the stored credentials for %s.",
		"unlinked":          "Account unlinked.",
		"bad_credentials":   "Riot rejected those credentials. Send /link to try again.",
		"mfa_prompt":        "A two-factor code was sent to %s. Reply with the code or use /code <code>.",
		"mfa_prompt_short":  "Usage: /code <code>",
		"mfa_invalid_code":  "That code was not accepted, try again.",
		"mfa_timeout":       "The two-factor code expired. Send /link to start over.",
		"cancelled":         "Cancelled.",
		"no_pending_code":   "There is no login waiting for a code. Send /link first.",
		"no_accounts":       "No linked accounts yet. Send /link to add one.",
		"accounts_header":   "Linked accounts:",
		"account_relink":    "needs relinking",
		"account_expired":   "signed out, /link again",
		"account_main":      "main",
		"account_not_found": "No linked account matches %q.",
		"main_usage":        "Usage: /main <account>",
		"main_set":          "%s is now the main account.",
		"unlink_usage":      "Usage: /unlink <account>",
		"locale_usage":      "Usage: /locale <tag>, e.g. /locale ru-RU",
		"locale_unknown":    "Unsupported locale %q.",
		"locale_set":        "Language updated.",
		"session_expired":   "The session for this account has expired, relink it with /link.",
		"rate_limited":      "Riot is rate limiting requests, try again in a minute.",
		"upstream_error":    "Riot did not answer, try again later.",
		"store_error":       "Could not save that change, try again later.",
		"unknown_command":   "Unknown command, see /help.",
		"wallet":            "Wallet for %s:\n%s",
		"wallet_vp":         "Valorant Points: %d",
		"wallet_radianite":  "Radianite: %d",
		"wallet_kingdom":    "Kingdom Credits: %d",
		"storefront":        "Daily store for %s (%d offers, rotates in %s).",
		"bundles":           "%d bundles currently featured.",
		"loadout":           "Loadout for %s: %d guns configured.",
	},
	"ru-RU": {
		"help": "Команды:\n" +
			"/link [регион] - привязать аккаунт Riot\n" +
			"/code <код> - отправить код подтверждения\n" +
			"/accounts - список аккаунтов\n" +
			"/main <аккаунт> - выбрать основной аккаунт\n" +
			"/unlink <аккаунт> - отвязать аккаунт\n" +
			"/store, /wallet, /bundles, /loadout - игровые данные\n" +
			"/locale <тег> - сменить язык\n" +
			"/cancel - отменить текущее действие",
		"link_prompt":       "Отправьте логин и пароль Riot одним сообщением через пробел.",
		"link_restart":      "Привязка прервана, отправьте /link ещё раз.",
		"linked":            "Аккаунт %s (%s) привязан.",
		"relinked":          "Учётные данные для %s обновлены.",
		"unlinked":          "Аккаунт отвязан.",
		"bad_credentials":   "Riot не принял эти данные. Отправьте /link и попробуйте снова.",
		"mfa_prompt":        "Код подтверждения отправлен на %s. Ответьте кодом или используйте /code <код>.",
		"mfa_prompt_short":  "Использование: /code <код>",
		"mfa_invalid_code":  "Код не принят, попробуйте ещё раз.",
		"mfa_timeout":       "Срок действия кода истёк. Отправьте /link заново.",
		"cancelled":         "Отменено.",
		"no_pending_code":   "Нет входа, ожидающего код. Сначала отправьте /link.",
		"no_accounts":       "Аккаунты не привязаны. Отправьте /link.",
		"accounts_header":   "Привязанные аккаунты:",
		"account_relink":    "нужна повторная привязка",
		"account_expired":   "сессия истекла, отправьте /link",
		"account_main":      "основной",
		"account_not_found": "Аккаунт %q не найден.",
		"main_usage":        "Использование: /main <аккаунт>",
		"main_set":          "%s теперь основной аккаунт.",
		"unlink_usage":      "Использование: /unlink <аккаунт>",
		"locale_usage":      "Использование: /locale <тег>, например /locale en-US",
		"locale_unknown":    "Локаль %q не поддерживается.",
		"locale_set":        "Язык обновлён.",
		"session_expired":   "Сессия аккаунта истекла, привяжите его заново через /link.",
		"rate_limited":      "Riot ограничивает запросы, попробуйте через минуту.",
		"upstream_error":    "Riot не ответил, попробуйте позже.",
		"store_error":       "Не удалось сохранить изменение, попробуйте позже.",
		"unknown_command":   "Неизвестная команда, см. /help.",
		"wallet":            "Кошелёк %s:\n%s",
		"wallet_vp":         "Valorant Points: %d",
		"wallet_radianite":  "Radianite: %d",
		"wallet_kingdom":    "Kingdom Credits: %d",
		"storefront":        "Магазин для %s (%d предложений, обновится через %s).",
		"bundles":           "Сейчас доступно наборов: %d.",
		"loadout":           "Снаряжение %s: настроено оружия: %d.",
	},
}

// tr renders a catalog message for the locale, falling back to en-US for
// unknown locales or keys.
func tr(locale, key string, args ...interface{}) string {
	catalog, ok := catalogs[locale]
	if !ok {
		catalog = catalogs[defaultLocale]
	}
	format, ok := catalog[key]
	if !ok {
		format = catalogs[defaultLocale][key]
	}
	if format == "" {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func formatAccounts(locale string, sessions []*riot.Session, main *riot.Session, failed map[string]error) string {
	out := tr(locale, "accounts_header")
	for _, s := range sessions {
		line := "\n• " + s.RiotID() + " (" + s.Region() + ")"
		if main != nil && s.PUUID() == main.PUUID() {
			line += " [" + tr(locale, "account_main") + "]"
		}
		if !s.IsAvailable() {
			line += " [" + tr(locale, "account_expired") + "]"
		}
		out += line
	}
	for puuid := range failed {
		out += "\n• " + puuid + " [" + tr(locale, "account_relink") + "]"
	}
	return out
}

func formatWallet(locale, riotID string, body []byte) string {
	var parsed struct {
		Balances map[string]int64 `json:"Balances"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tr(locale, "upstream_error")
	}

	lines := tr(locale, "wallet_vp", parsed.Balances[currencyVP]) + "\n" +
		tr(locale, "wallet_radianite", parsed.Balances[currencyRadianite]) + "\n" +
		tr(locale, "wallet_kingdom", parsed.Balances[currencyKingdom])
	return tr(locale, "wallet", riotID, lines)
}

func formatStorefront(locale, riotID string, body []byte) string {
	var parsed struct {
		SkinsPanelLayout struct {
			SingleItemOffers                           []string `json:"SingleItemOffers"`
			SingleItemOffersRemainingDurationInSeconds int64    `json:"SingleItemOffersRemainingDurationInSeconds"`
		} `json:"SkinsPanelLayout"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tr(locale, "upstream_error")
	}

	remaining := time.Duration(parsed.SkinsPanelLayout.SingleItemOffersRemainingDurationInSeconds) * time.Second
	return tr(locale, "storefront", riotID,
		len(parsed.SkinsPanelLayout.SingleItemOffers), remaining.Truncate(time.Minute).String())
}

func formatBundles(locale string, body []byte) string {
	var parsed struct {
		Offers []json.RawMessage `json:"Offers"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tr(locale, "upstream_error")
	}
	return tr(locale, "bundles", len(parsed.Offers))
}

func formatLoadout(locale, riotID string, body []byte) string {
	var parsed struct {
		Guns []json.RawMessage `json:"Guns"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tr(locale, "upstream_error")
	}
	return tr(locale, "loadout", riotID, len(parsed.Guns))
}
