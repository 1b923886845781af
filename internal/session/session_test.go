package session

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	sleep = func(time.Duration) {}
	os.Exit(m.Run())
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestOpenCreatesSessionAndCookie(t *testing.T) {
	s := newStore(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	sess, err := s.Open(w, r)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.False(t, sess.Authenticated)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestOpenResumesExistingSession(t *testing.T) {
	s := newStore(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	first, err := s.Open(w, r)
	require.NoError(t, err)
	first.Authenticated = true
	require.NoError(t, s.Save(first))

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(&http.Cookie{Name: CookieName, Value: first.ID})
	second, err := s.Open(httptest.NewRecorder(), r2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Authenticated)
}

func TestOpenIgnoresBogusCookie(t *testing.T) {
	s := newStore(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})
	sess, err := s.Open(httptest.NewRecorder(), r)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", sess.ID)
}

func TestDestroyRemovesStateAndExpiresCookie(t *testing.T) {
	s := newStore(t)
	w := httptest.NewRecorder()
	sess, err := s.Open(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	file := filepath.Join(s.dir, sess.ID+".json")
	_, err = os.Stat(file)
	require.NoError(t, err)

	w2 := httptest.NewRecorder()
	require.NoError(t, s.Destroy(w2, sess))
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))

	cookies := w2.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestFlashIsReadOnce(t *testing.T) {
	sess := &Session{}
	sess.SetFlash("Saved.")
	assert.Equal(t, "Saved.", sess.TakeFlash())
	assert.Empty(t, sess.TakeFlash())
}

func TestCSRFStableWithinTTL(t *testing.T) {
	sess := &Session{}
	tok := sess.CSRF()
	require.Len(t, tok, 64)
	assert.Equal(t, tok, sess.CSRF())
}

func TestCSRFRotatesAfterTTL(t *testing.T) {
	sess := &Session{}
	tok := sess.CSRF()
	sess.CSRFIssued = time.Now().Add(-CSRFTTL - time.Minute).Unix()
	assert.NotEqual(t, tok, sess.CSRF())
}

func TestCheckCSRF(t *testing.T) {
	sess := &Session{}
	tok := sess.CSRF()
	assert.True(t, sess.CheckCSRF(tok))
	assert.False(t, sess.CheckCSRF("deadbeef"))
	assert.False(t, sess.CheckCSRF(""))
}

func TestCheckCSRFRejectsExpiredToken(t *testing.T) {
	sess := &Session{}
	tok := sess.CSRF()
	sess.CSRFIssued = time.Now().Add(-CSRFTTL - time.Minute).Unix()
	// The comparison rotates the stale token before matching.
	assert.False(t, sess.CheckCSRF(tok))
}

func TestRefreshCSRFSlidesExpiry(t *testing.T) {
	sess := &Session{}
	tok := sess.CSRF()
	sess.CSRFIssued = time.Now().Add(-CSRFTTL + time.Minute).Unix()
	sess.RefreshCSRF()
	assert.Equal(t, tok, sess.CSRF())
	assert.InDelta(t, time.Now().Unix(), sess.CSRFIssued, 5)
}

func TestPasswordOK(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, PasswordOK(string(hash), "secret"))
	assert.False(t, PasswordOK(string(hash), "wrong"))
	assert.False(t, PasswordOK(string(hash), ""))
	assert.False(t, PasswordOK("", "secret"))
}
