package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tgclicker/internal/auth"
	"tgclicker/internal/config"
	"tgclicker/internal/game"
	"tgclicker/internal/tgbot"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID   int64
	Username string
}

// Economy is the game surface the API drives; *game.Service implements it.
type Economy interface {
	CreatePlayer(ctx context.Context, userID int64, reg game.Registration, referrerID *int64) (game.Player, error)
	UpgradeAbility(ctx context.Context, userID int64, track game.Track) (game.UpgradeResult, error)
	ReconcileLogout(ctx context.Context, userID int64, snap game.LogoutSnapshot) error
	ClaimReferralReward(ctx context.Context, referrerID, referredID int64) (game.ClaimResult, error)
	Referrals(ctx context.Context, referrerID int64) ([]game.Referral, error)
	Profile(ctx context.Context, userID int64) (game.PlayerProfile, error)
	RunBoost(ctx context.Context, userID int64) (game.BoostResult, error)
}

var _ Economy = (*game.Service)(nil)

type ContactSink interface {
	Forward(ctx context.Context, req tgbot.ContactRequest) error
}

type Option func(*Server)

func WithContactSink(sink ContactSink) Option {
	return func(s *Server) { s.contact = sink }
}

// WithWebhook mounts POST /telegram/webhook. A non-empty secret must match
// the X-Telegram-Bot-Api-Secret-Token header.
func WithWebhook(h tgbot.UpdateHandler, secret string) Option {
	return func(s *Server) {
		s.webhook = h
		s.webhookSecret = secret
	}
}

func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

type Server struct {
	cfg           config.APIConfig
	log           *slog.Logger
	tokens        *auth.TokenIssuer
	game          Economy
	contact       ContactSink
	webhook       tgbot.UpdateHandler
	webhookSecret string
	metrics       http.Handler
	now           func() time.Time
	mux           *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, tokens *auth.TokenIssuer, economy Economy, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		tokens:  tokens,
		game:    economy,
		metrics: promhttp.Handler(),
		now:     time.Now,
		mux:     chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics)
	r.Post("/contact", s.handleContact)
	if s.webhook != nil {
		r.Post("/telegram/webhook", s.handleWebhook)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/telegram", s.handleTelegramAuth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleMe)
			r.Post("/abilities/{track}/upgrade", s.handleUpgrade)
			r.Post("/session/logout", s.handleLogout)
			r.Get("/referrals", s.handleReferrals)
			r.Post("/referrals/{referred_id}/claim", s.handleClaimReferral)
			r.Post("/boost", s.handleBoost)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, claims, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:   userID,
			Username: claims.Username,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID <= 0 {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleTelegramAuth(w http.ResponseWriter, r *http.Request) {
	var in struct {
		InitData string `json:"init_data"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := auth.VerifyInitData(in.InitData, s.cfg.BotToken, s.cfg.InitDataMaxAge, s.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	reg := game.Registration{DisplayName: data.User.DisplayName(), FirstName: data.User.FirstName}
	player, err := s.game.CreatePlayer(r.Context(), data.User.ID, reg, auth.ReferrerFromStartParam(data.StartParam))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	token, err := s.tokens.Issue(data.User.ID, data.User.Username)
	if err != nil {
		s.log.Error("issue session token", "user_id", data.User.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "player": player})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Profile(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	track, err := game.ParseTrack(chi.URLParam(r, "track"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.game.UpgradeAbility(r.Context(), user.UserID, track)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Balance      int64   `json:"balance"`
		ActiveEnergy float64 `json:"active_energy"`
		LoginAt      int64   `json:"login_at"`
		LogoutAt     int64   `json:"logout_at"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.game.ReconcileLogout(r.Context(), user.UserID, game.LogoutSnapshot{
		Balance:      in.Balance,
		ActiveEnergy: in.ActiveEnergy,
		LoginAtMs:    in.LoginAt,
		LogoutAtMs:   in.LogoutAt,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Referrals(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []game.Referral{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"referrals": out})
}

func (s *Server) handleClaimReferral(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	referredID, err := strconv.ParseInt(chi.URLParam(r, "referred_id"), 10, 64)
	if err != nil || referredID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid referred id")
		return
	}
	out, err := s.game.ClaimReferralReward(r.Context(), user.UserID, referredID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.RunBoost(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if s.contact == nil {
		writeError(w, http.StatusServiceUnavailable, "contact form is not configured")
		return
	}
	var in tgbot.ContactRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.contact.Forward(r.Context(), in); err != nil {
		if errors.Is(err, tgbot.ErrContactInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("contact forward failed", "err", err)
		writeError(w, http.StatusBadGateway, "could not deliver message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "bad webhook secret")
			return
		}
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.webhook.HandleUpdate(r.Context(), update); err != nil {
		s.log.Error("webhook update failed", "update_id", update.UpdateID, "err", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrPlayerNotFound), errors.Is(err, game.ErrReferralNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidTrack), errors.Is(err, game.ErrInvalidSnapshot), errors.Is(err, game.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInsufficientBalance), errors.Is(err, game.ErrRewardAlreadyClaimed), errors.Is(err, game.ErrBoostCooldown), errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrConcurrencyExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
