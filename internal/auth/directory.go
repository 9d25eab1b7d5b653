package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"

	"github.com/joulia/joulia-live/internal/livelog"
)

// UserRecord is a user known to the external credential store.
type UserRecord struct {
	ID           int64   `toml:"id"`
	Username     string  `toml:"username"`
	PasswordHash string  `toml:"password_hash"` // bcrypt
	Companies    []int64 `toml:"companies"`
	Active       *bool   `toml:"active"` // nil means active
}

// TokenRecord is an API token. Tokens bound to a brewhouse authenticate that
// brewhouse's controller.
type TokenRecord struct {
	Key       string `toml:"key"`
	User      int64  `toml:"user"`
	Brewhouse int64  `toml:"brewhouse"`
}

// SessionRecord is a browser session issued by the web application.
type SessionRecord struct {
	Key       string    `toml:"key"`
	User      int64     `toml:"user"`
	ExpiresAt time.Time `toml:"expires_at"`
}

// directoryFile is the on-disk TOML layout of a credential directory.
type directoryFile struct {
	Users    []UserRecord    `toml:"users"`
	Tokens   []TokenRecord   `toml:"tokens"`
	Sessions []SessionRecord `toml:"sessions"`
}

// Directory is a read-mostly view of the externally managed credential
// store. It can be reloaded from disk while connections are being served.
type Directory struct {
	mu       sync.RWMutex
	path     string
	users    map[int64]UserRecord
	byName   map[string]int64
	tokens   map[string]TokenRecord
	sessions map[string]SessionRecord
	now      func() time.Time
}

// NewDirectory creates a directory from in-memory records.
func NewDirectory(users []UserRecord, tokens []TokenRecord, sessions []SessionRecord) *Directory {
	d := &Directory{now: time.Now}
	d.replace(directoryFile{Users: users, Tokens: tokens, Sessions: sessions})
	return d
}

// LoadDirectory reads a TOML credential file.
func LoadDirectory(path string) (*Directory, error) {
	d := &Directory{path: path, now: time.Now}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the credential file the directory was loaded from.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	var f directoryFile
	if _, err := toml.DecodeFile(d.path, &f); err != nil {
		return fmt.Errorf("load credentials %s: %w", d.path, err)
	}
	d.replace(f)
	return nil
}

func (d *Directory) replace(f directoryFile) {
	users := make(map[int64]UserRecord, len(f.Users))
	byName := make(map[string]int64, len(f.Users))
	for _, u := range f.Users {
		users[u.ID] = u
		byName[u.Username] = u.ID
	}
	tokens := make(map[string]TokenRecord, len(f.Tokens))
	for _, t := range f.Tokens {
		tokens[t.Key] = t
	}
	sessions := make(map[string]SessionRecord, len(f.Sessions))
	for _, s := range f.Sessions {
		sessions[s.Key] = s
	}

	d.mu.Lock()
	d.users, d.byName, d.tokens, d.sessions = users, byName, tokens, sessions
	d.mu.Unlock()
}

// CheckPassword verifies a username/password pair.
func (d *Directory) CheckPassword(username, password string) (Principal, bool) {
	d.mu.RLock()
	id, ok := d.byName[username]
	user := d.users[id]
	d.mu.RUnlock()

	if !ok || !user.active() || user.PasswordHash == "" {
		return Principal{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Principal{}, false
	}
	return user.principal(MethodBasic), true
}

// LookupToken resolves an API token.
func (d *Directory) LookupToken(key string) (Principal, bool) {
	if key == "" {
		return Principal{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	// Every key is compared in constant time.
	var match TokenRecord
	found := false
	for k, rec := range d.tokens {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			match, found = rec, true
		}
	}
	if !found {
		return Principal{}, false
	}
	user, ok := d.users[match.User]
	if !ok || !user.active() {
		return Principal{}, false
	}
	p := user.principal(MethodToken)
	p.Brewhouse = match.Brewhouse
	return p, true
}

// LookupSession resolves a session cookie value.
func (d *Directory) LookupSession(key string) (Principal, bool) {
	if key == "" {
		return Principal{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	sess, ok := d.sessions[key]
	if !ok {
		return Principal{}, false
	}
	if !sess.ExpiresAt.IsZero() && d.now().After(sess.ExpiresAt) {
		return Principal{}, false
	}
	user, ok := d.users[sess.User]
	if !ok || !user.active() {
		return Principal{}, false
	}
	return user.principal(MethodSession), true
}

// Watch reloads the directory whenever its file changes, until ctx is done.
// Editors often replace files instead of writing them in place, so the
// parent directory is watched and events are filtered by name.
func (d *Directory) Watch(ctx context.Context) error {
	if d.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", d.path, err)
	}

	go func() {
		defer w.Close()

		const debounce = 250 * time.Millisecond
		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(d.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := d.Reload(); err != nil {
					livelog.Log.Error("Failed to reload credentials", "path", d.path, "error", err)
					continue
				}
				livelog.Log.Info("Reloaded credentials", "path", d.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				livelog.Log.Warn("Credentials watcher error", "error", err)
			}
		}
	}()
	return nil
}

// HashPassword returns a bcrypt hash suitable for UserRecord.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (u UserRecord) active() bool {
	return u.Active == nil || *u.Active
}

func (u UserRecord) principal(m Method) Principal {
	p := Principal{
		UserID:    u.ID,
		Username:  u.Username,
		Companies: u.Companies,
		Method:    m,
	}
	return p.clone()
}
