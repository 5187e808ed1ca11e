package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataMissingHash = errors.New("init data: hash missing")
	ErrInitDataSignature   = errors.New("init data: signature mismatch")
	ErrInitDataExpired     = errors.New("init data: expired")
	ErrInitDataUser        = errors.New("init data: user missing")
)

// TelegramUser is the subset of the WebApp user object the game needs.
type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

type InitData struct {
	User       TelegramUser
	StartParam string
	AuthDate   time.Time
	QueryID    string
}

// DisplayName prefers the @username and falls back to the first name.
func (u TelegramUser) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// VerifyInitData checks the hash Telegram attaches to WebApp init data and
// returns the decoded payload. maxAge <= 0 disables the freshness check.
func VerifyInitData(raw, botToken string, maxAge time.Duration, now time.Time) (InitData, error) {
	values, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil {
		return InitData{}, fmt.Errorf("parse init data: %w", err)
	}
	hash := values.Get("hash")
	if hash == "" {
		return InitData{}, ErrInitDataMissingHash
	}
	want, err := hex.DecodeString(hash)
	if err != nil {
		return InitData{}, ErrInitDataSignature
	}
	if !hmac.Equal(want, signInitData(values, botToken)) {
		return InitData{}, ErrInitDataSignature
	}

	out := InitData{
		StartParam: values.Get("start_param"),
		QueryID:    values.Get("query_id"),
	}
	if ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64); err == nil {
		out.AuthDate = time.Unix(ts, 0).UTC()
	}
	if maxAge > 0 && (out.AuthDate.IsZero() || now.Sub(out.AuthDate) > maxAge) {
		return InitData{}, ErrInitDataExpired
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &out.User); err != nil || out.User.ID <= 0 {
		return InitData{}, ErrInitDataUser
	}
	return out, nil
}

// SignInitData returns the hex hash Telegram would attach to values.
func SignInitData(values url.Values, botToken string) string {
	return hex.EncodeToString(signInitData(values, botToken))
}

func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}

// ReferrerFromStartParam extracts the inviting user id from a "ref_<id>"
// start parameter.
func ReferrerFromStartParam(param string) *int64 {
	param = strings.TrimSpace(param)
	if !strings.HasPrefix(param, "ref_") {
		return nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(param, "ref_"), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
