package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type OTPChallenge struct {
	Email       string    `json:"email"`
	CodeHash    string    `json:"codeHash"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RequestedAt time.Time `json:"requestedAt"`
	Attempts    int       `json:"attempts"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type state struct {
	Users         map[string]User         `json:"users"`
	UserByEmail   map[string]string       `json:"userByEmail"`
	Challenges    map[string]OTPChallenge `json:"challenges"`
	Sessions      map[string]Session      `json:"sessions"`
	SessionByHash map[string]string       `json:"sessionByHash"`
}

func newState() state {
	return state{
		Users:         map[string]User{},
		UserByEmail:   map[string]string{},
		Challenges:    map[string]OTPChallenge{},
		Sessions:      map[string]Session{},
		SessionByHash: map[string]string{},
	}
}

func (s *state) fill() {
	if s.Users == nil {
		s.Users = map[string]User{}
	}
	if s.UserByEmail == nil {
		s.UserByEmail = map[string]string{}
	}
	if s.Challenges == nil {
		s.Challenges = map[string]OTPChallenge{}
	}
	if s.Sessions == nil {
		s.Sessions = map[string]Session{}
	}
	if s.SessionByHash == nil {
		s.SessionByHash = map[string]string{}
	}
}

// Store keeps users, pending OTP challenges and sessions in auth.json under
// the data directory. An empty dataDir keeps everything in memory.
type Store struct {
	mu   sync.RWMutex
	path string
	s    state
}

func NewStore(dataDir string) (*Store, error) {
	st := &Store{s: newState()}
	if dataDir == "" {
		return st, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	st.path = filepath.Join(dataDir, "auth.json")
	if err := st.load(); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *Store) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var loaded state
	if err := json.Unmarshal(b, &loaded); err != nil {
		return fmt.Errorf("decode %s: %w", r.path, err)
	}
	loaded.fill()
	r.s = loaded
	return nil
}

func (r *Store) saveLocked() error {
	if r.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(r.s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, b, 0o600)
}

func (r *Store) GetOrCreateUser(email string, now time.Time, newID func() string) (User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.s.UserByEmail[email]; ok {
		if u, ok := r.s.Users[id]; ok {
			return u, false, nil
		}
	}

	u := User{ID: newID(), Email: email, CreatedAt: now}
	r.s.Users[u.ID] = u
	r.s.UserByEmail[email] = u.ID
	if err := r.saveLocked(); err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (r *Store) GetUser(id string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.s.Users[id]
	return u, ok
}

func (r *Store) PutChallenge(ch OTPChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Challenges[ch.Email] = ch
	return r.saveLocked()
}

func (r *Store) GetChallenge(email string) (OTPChallenge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.s.Challenges[email]
	return ch, ok
}

func (r *Store) DeleteChallenge(email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.s.Challenges, email)
	return r.saveLocked()
}

func (r *Store) CreateSession(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Sessions[s.ID] = s
	r.s.SessionByHash[s.TokenHash] = s.ID
	return r.saveLocked()
}

func (r *Store) SessionByTokenHash(tokenHash string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.s.SessionByHash[tokenHash]
	if !ok {
		return Session{}, false
	}
	s, ok := r.s.Sessions[id]
	return s, ok
}

func (r *Store) DeleteSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.s.Sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.s.Sessions, sessionID)
	delete(r.s.SessionByHash, s.TokenHash)
	return r.saveLocked()
}

func (r *Store) TouchSession(sessionID string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.s.Sessions[sessionID]
	if !ok {
		return nil
	}
	s.LastSeen = lastSeen
	r.s.Sessions[sessionID] = s
	return r.saveLocked()
}

// Purge drops expired challenges and sessions and returns the ids of the
// sessions it removed.
func (r *Store) Purge(now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for email, ch := range r.s.Challenges {
		if now.After(ch.ExpiresAt) {
			delete(r.s.Challenges, email)
			changed = true
		}
	}
	var removed []string
	for id, s := range r.s.Sessions {
		if now.After(s.ExpiresAt) {
			delete(r.s.Sessions, id)
			delete(r.s.SessionByHash, s.TokenHash)
			removed = append(removed, id)
			changed = true
		}
	}
	if !changed {
		return nil, nil
	}
	return removed, r.saveLocked()
}
