// Package session implements the admin visitor session: authentication
// flag, one-shot flash message and the rotating CSRF token. Sessions are
// persisted as small JSON files under the state directory and addressed by
// a cookie.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// CookieName identifies the admin session cookie.
	CookieName = "simplesite_session"

	// CSRFTTL is the token lifetime. A token older than this is rotated at
	// read time, which intentionally invalidates forms left open too long.
	CSRFTTL = 30 * time.Minute
)

// sleep is stubbed in tests.
var sleep = time.Sleep

// Session is the per-visitor mutable state. Mutations are persisted by
// Store.Save.
type Session struct {
	ID            string `json:"id"`
	Authenticated bool   `json:"authenticated"`
	Flash         string `json:"flash,omitempty"`
	CSRFToken     string `json:"csrfToken,omitempty"`
	CSRFIssued    int64  `json:"csrfIssued,omitempty"`
}

// Store keeps sessions on disk, one JSON file per session ID.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the session directory under the state dir.
func NewStore(stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir sessions: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Open returns the request's session, creating one lazily (and setting the
// cookie) on first admin access.
func (s *Store) Open(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if c, err := r.Cookie(CookieName); err == nil && validID(c.Value) {
		if sess, err := s.load(c.Value); err == nil {
			return sess, nil
		}
	}
	sess := &Session{ID: uuid.NewString()}
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (s *Store) load(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, err
	}
	if sess.ID != id {
		return nil, fmt.Errorf("session id mismatch")
	}
	return &sess, nil
}

// Save persists the session.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, sess.ID+".json"), b, 0o600)
}

// Release persists the session and releases it for the remainder of the
// request. Long streaming responses call this before writing the body so
// they do not hold the visitor's session across the download.
func (s *Store) Release(sess *Session) error {
	return s.Save(sess)
}

// Destroy deletes all session state and expires the cookie (logout).
func (s *Store) Destroy(w http.ResponseWriter, sess *Session) error {
	s.mu.Lock()
	err := os.Remove(filepath.Join(s.dir, sess.ID+".json"))
	s.mu.Unlock()
	*sess = Session{}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func validID(id string) bool {
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	return !strings.ContainsAny(id, "/\\")
}

// TakeFlash returns the flash message and clears it (read-once). The caller
// must Save afterwards.
func (sess *Session) TakeFlash() string {
	msg := sess.Flash
	sess.Flash = ""
	return msg
}

// SetFlash stores a one-shot notice shown after the next redirect.
func (sess *Session) SetFlash(msg string) { sess.Flash = msg }

// CSRF returns the current token, rotating it if absent or older than
// CSRFTTL. The caller must Save afterwards.
func (sess *Session) CSRF() string {
	now := time.Now().Unix()
	if sess.CSRFToken == "" || now-sess.CSRFIssued > int64(CSRFTTL/time.Second) {
		sess.CSRFToken = newToken()
		sess.CSRFIssued = now
	}
	return sess.CSRFToken
}

// CheckCSRF compares a submitted token after a random 50-200ms delay that
// blunts timing and brute-force probing. An expired token never matches
// because CSRF rotates it first.
func (sess *Session) CheckCSRF(candidate string) bool {
	randomDelay()
	current := sess.CSRF()
	return candidate != "" &&
		subtle.ConstantTimeCompare([]byte(current), []byte(candidate)) == 1
}

// RefreshCSRF slides the token expiry; called after each validated POST so
// an active user's token does not rot under them.
func (sess *Session) RefreshCSRF() {
	if sess.CSRFToken != "" {
		sess.CSRFIssued = time.Now().Unix()
	}
}

// PasswordOK verifies a login candidate against the configured bcrypt hash,
// again behind the random delay. An empty hash refuses everything.
func PasswordOK(hash, candidate string) bool {
	randomDelay()
	if hash == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

func randomDelay() {
	n, err := rand.Int(rand.Reader, big.NewInt(150))
	jitter := int64(75)
	if err == nil {
		jitter = n.Int64()
	}
	sleep(time.Duration(50+jitter) * time.Millisecond)
}

func newToken() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand never fails on supported platforms; degrade loudly.
		panic(fmt.Sprintf("session: random source unavailable: %v", err))
	}
	sum := sha256.Sum256(raw[:])
	return hex.EncodeToString(sum[:])
}
