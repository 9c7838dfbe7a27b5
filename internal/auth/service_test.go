package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthServiceForTests(t *testing.T, opts Options) (*Service, *observer.ObservedLogs) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	core, logs := observer.New(zapcore.InfoLevel)
	return NewService(store, zap.New(core), opts), logs
}

// lastCode pulls the most recently issued OTP code out of the logs.
func lastCode(t *testing.T, logs *observer.ObservedLogs) string {
	t.Helper()
	entries := logs.FilterMessage("otp issued").All()
	require.NotEmpty(t, entries)
	code, ok := entries[len(entries)-1].ContextMap()["code"].(string)
	require.True(t, ok)
	return code
}

func login(t *testing.T, svc *Service, logs *observer.ObservedLogs, email string, now time.Time) (User, string, time.Time) {
	t.Helper()
	_, err := svc.RequestOTP(email, now)
	require.NoError(t, err)
	u, token, exp, err := svc.VerifyOTP(email, lastCode(t, logs), now.Add(time.Minute))
	require.NoError(t, err)
	return u, token, exp
}

func TestService_VerifyOTP_TooManyAttempts(t *testing.T) {
	svc, _ := newAuthServiceForTests(t, Options{MaxOTPAttempts: 3})
	now := time.Date(2026, 10, 7, 9, 0, 0, 0, time.UTC)

	_, err := svc.RequestOTP("tester@example.com", now)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, _, err := svc.VerifyOTP("tester@example.com", "000000", now.Add(30*time.Second))
		assert.ErrorIs(t, err, ErrInvalidOTP, "attempt %d", i+1)
	}
	_, _, _, err = svc.VerifyOTP("tester@example.com", "000000", now.Add(45*time.Second))
	assert.ErrorIs(t, err, ErrTooManyOTPAttempts)
}

func TestService_VerifyOTP_Expired(t *testing.T) {
	svc, logs := newAuthServiceForTests(t, Options{OTPTTL: time.Minute})
	now := time.Date(2026, 10, 7, 9, 0, 0, 0, time.UTC)

	_, err := svc.RequestOTP("Late@Example.com ", now)
	require.NoError(t, err)
	_, _, _, err = svc.VerifyOTP("late@example.com", lastCode(t, logs), now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestService_RejectsMalformedInput(t *testing.T) {
	svc, _ := newAuthServiceForTests(t, Options{})
	_, err := svc.RequestOTP("not-an-email", time.Now())
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, _, _, err = svc.VerifyOTP("a@example.com", "12ab56", time.Now())
	assert.ErrorIs(t, err, ErrInvalidOTPFormat)
}

func TestService_AuthenticateRequest_ExpiredSessionIsRejected(t *testing.T) {
	var ended []string
	svc, logs := newAuthServiceForTests(t, Options{OnSessionEnd: func(id string) { ended = append(ended, id) }})
	now := time.Date(2026, 10, 7, 10, 0, 0, 0, time.UTC)

	u, token, exp := login(t, svc, logs, "expired@example.com", now)
	assert.Equal(t, "expired@example.com", u.Email)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: svc.CookieName(), Value: token})

	_, sess, ok := svc.AuthenticateRequest(req, now.Add(2*time.Minute))
	require.True(t, ok)

	_, _, ok = svc.AuthenticateRequest(req, exp.Add(time.Second))
	assert.False(t, ok)
	_, ok = svc.store.SessionByTokenHash(hashToken(token))
	assert.False(t, ok)
	assert.Equal(t, []string{sess.ID}, ended)
}

func TestService_SameUserAcrossLogins(t *testing.T) {
	svc, logs := newAuthServiceForTests(t, Options{})
	now := time.Now()
	a, tokA, _ := login(t, svc, logs, "same@example.com", now)
	b, tokB, _ := login(t, svc, logs, "same@example.com", now)
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, tokA, tokB)
}

func TestService_PurgeExpired(t *testing.T) {
	var ended []string
	svc, logs := newAuthServiceForTests(t, Options{
		SessionTTL:   time.Hour,
		OnSessionEnd: func(id string) { ended = append(ended, id) },
	})
	now := time.Date(2026, 10, 7, 10, 0, 0, 0, time.UTC)
	login(t, svc, logs, "purge@example.com", now)
	_, err := svc.RequestOTP("pending@example.com", now)
	require.NoError(t, err)

	require.NoError(t, svc.PurgeExpired(now.Add(2*time.Hour)))
	assert.Len(t, ended, 1)
	_, ok := svc.store.GetChallenge("pending@example.com")
	assert.False(t, ok)
}

func TestService_SetSessionCookie_Options(t *testing.T) {
	svc, _ := newAuthServiceForTests(t, Options{
		CookieName:     "fp",
		CookiePath:     "/app",
		CookieDomain:   "example.com",
		CookieSameSite: http.SameSiteNoneMode,
		CookieSecure:   SecureNever,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://localhost/login", nil)
	svc.SetSessionCookie(w, req, "token-123", time.Now().Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "fp", c.Name)
	assert.Equal(t, "/app", c.Path)
	assert.Equal(t, "example.com", c.Domain)
	assert.False(t, c.Secure)
	// SameSite=None needs Secure, so it falls back to Lax.
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestService_SecureAutoFollowsForwardedProto(t *testing.T) {
	svc, _ := newAuthServiceForTests(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	assert.False(t, svc.secure(req))
	req.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, svc.secure(req))
}

func TestMiddleware_Guards(t *testing.T) {
	svc, logs := newAuthServiceForTests(t, Options{})
	_, token, _ := login(t, svc, logs, "guard@example.com", time.Now())

	var seen User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	svc.RequirePage(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	svc.RequireAPI(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: svc.CookieName(), Value: token})
	rec = httptest.NewRecorder()
	svc.RequireAPI(inner).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "guard@example.com", seen.Email)

	_, ok := CurrentUser(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}
