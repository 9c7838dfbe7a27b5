package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidOTPFormat   = errors.New("otp code must be 6 digits")
	ErrInvalidOTP         = errors.New("invalid otp code")
	ErrOTPExpired         = errors.New("otp code expired")
	ErrTooManyOTPAttempts = errors.New("too many invalid otp attempts")
)

// SecureMode controls the Secure attribute of the session cookie.
type SecureMode string

const (
	SecureAuto   SecureMode = "auto"
	SecureAlways SecureMode = "always"
	SecureNever  SecureMode = "never"
)

type Options struct {
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSameSite http.SameSite
	CookieSecure   SecureMode
	OTPTTL         time.Duration
	SessionTTL     time.Duration
	MaxOTPAttempts int
	// OnSessionEnd is called with the id of every session that is revoked
	// or found expired.
	OnSessionEnd func(sessionID string)
}

func (o *Options) applyDefaults() {
	if o.CookieName == "" {
		o.CookieName = "fixpoint_session"
	}
	if o.CookiePath == "" {
		o.CookiePath = "/"
	}
	if o.CookieSameSite == 0 {
		o.CookieSameSite = http.SameSiteLaxMode
	}
	if o.CookieSecure == "" {
		o.CookieSecure = SecureAuto
	}
	if o.OTPTTL <= 0 {
		o.OTPTTL = 10 * time.Minute
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 7 * 24 * time.Hour
	}
	if o.MaxOTPAttempts <= 0 {
		o.MaxOTPAttempts = 5
	}
}

type Service struct {
	store  *Store
	logger *zap.Logger
	opts   Options
}

func NewService(store *Store, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Service{store: store, logger: logger, opts: opts}
}

func (s *Service) CookieName() string { return s.opts.CookieName }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || strings.ToLower(addr.Address) != email {
		return ErrInvalidEmail
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != 6 {
		return ErrInvalidOTPFormat
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ErrInvalidOTPFormat
		}
	}
	return nil
}

func hashOTP(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// RequestOTP issues a fresh code for email, replacing any pending one. There
// is no mail delivery; the code is written to the log.
func (s *Service) RequestOTP(email string, now time.Time) (time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return time.Time{}, err
	}
	code, err := generateOTPCode()
	if err != nil {
		return time.Time{}, err
	}
	ch := OTPChallenge{
		Email:       email,
		CodeHash:    hashOTP(email, code),
		ExpiresAt:   now.Add(s.opts.OTPTTL),
		RequestedAt: now,
	}
	if err := s.store.PutChallenge(ch); err != nil {
		return time.Time{}, err
	}
	s.logger.Info("otp issued",
		zap.String("email", email),
		zap.String("code", code),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return ch.ExpiresAt, nil
}

// VerifyOTP checks code and on success opens a session, returning the raw
// session token for the cookie.
func (s *Service) VerifyOTP(email, code string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}
	if err := validateCode(code); err != nil {
		return User{}, "", time.Time{}, err
	}

	ch, ok := s.store.GetChallenge(email)
	if !ok {
		return User{}, "", time.Time{}, ErrInvalidOTP
	}
	if now.After(ch.ExpiresAt) {
		_ = s.store.DeleteChallenge(email)
		return User{}, "", time.Time{}, ErrOTPExpired
	}
	if ch.Attempts >= s.opts.MaxOTPAttempts {
		_ = s.store.DeleteChallenge(email)
		return User{}, "", time.Time{}, ErrTooManyOTPAttempts
	}
	if hashOTP(email, code) != ch.CodeHash {
		ch.Attempts++
		if ch.Attempts >= s.opts.MaxOTPAttempts {
			_ = s.store.DeleteChallenge(email)
			return User{}, "", time.Time{}, ErrTooManyOTPAttempts
		}
		_ = s.store.PutChallenge(ch)
		return User{}, "", time.Time{}, ErrInvalidOTP
	}
	if err := s.store.DeleteChallenge(email); err != nil {
		return User{}, "", time.Time{}, err
	}

	u, created, err := s.store.GetOrCreateUser(email, now, uuid.NewString)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	if created {
		s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("email", email))
	}

	token, err := generateToken()
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	exp := now.Add(s.opts.SessionTTL)
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TokenHash: hashToken(token),
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: exp,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

func (s *Service) endSession(id string) {
	_ = s.store.DeleteSession(id)
	if s.opts.OnSessionEnd != nil {
		s.opts.OnSessionEnd(id)
	}
}

func (s *Service) AuthenticateRequest(r *http.Request, now time.Time) (User, Session, bool) {
	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return User{}, Session{}, false
	}
	sess, ok := s.store.SessionByTokenHash(hashToken(cookie.Value))
	if !ok {
		return User{}, Session{}, false
	}
	if now.After(sess.ExpiresAt) {
		s.endSession(sess.ID)
		return User{}, Session{}, false
	}
	u, ok := s.store.GetUser(sess.UserID)
	if !ok {
		s.endSession(sess.ID)
		return User{}, Session{}, false
	}

	// Throttled to keep writes down.
	if now.Sub(sess.LastSeen) >= 5*time.Minute {
		_ = s.store.TouchSession(sess.ID, now)
		sess.LastSeen = now
	}
	return u, sess, true
}

func (s *Service) RevokeSessionForRequest(r *http.Request) {
	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return
	}
	if sess, ok := s.store.SessionByTokenHash(hashToken(cookie.Value)); ok {
		s.endSession(sess.ID)
	}
}

// PurgeExpired sweeps expired challenges and sessions.
func (s *Service) PurgeExpired(now time.Time) error {
	removed, err := s.store.Purge(now)
	if s.opts.OnSessionEnd != nil {
		for _, id := range removed {
			s.opts.OnSessionEnd(id)
		}
	}
	return err
}

func (s *Service) secure(r *http.Request) bool {
	switch s.opts.CookieSecure {
	case SecureAlways:
		return true
	case SecureNever:
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func (s *Service) cookie(r *http.Request, value string, expires time.Time, maxAge int) *http.Cookie {
	secure := s.secure(r)
	sameSite := s.opts.CookieSameSite
	// Browsers drop SameSite=None cookies that are not Secure.
	if sameSite == http.SameSiteNoneMode && !secure {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    value,
		Path:     s.opts.CookiePath,
		Domain:   s.opts.CookieDomain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

func (s *Service) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, s.cookie(r, token, expiresAt, 0))
}

func (s *Service) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.cookie(r, "", time.Unix(0, 0), -1))
}

func (s *Service) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, sess, ok := s.AuthenticateRequest(r, time.Now())
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), u, sess)))
	})
}

func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, sess, ok := s.AuthenticateRequest(r, time.Now())
		if !ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), u, sess)))
	})
}

// HandleAppRoute sends signed-in users to the dashboard and everyone else to
// the login page.
func (s *Service) HandleAppRoute(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.AuthenticateRequest(r, time.Now()); ok {
		http.Redirect(w, r, "/tasks", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
