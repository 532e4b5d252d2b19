package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

// MaxCodeRetries bounds how many random codes CreateCouple tries before
// giving up.
const MaxCodeRetries = 5

// Storage keys owned by the session.
const (
	KeyCredentials = "mimitask_auth"
	KeyPartnerRole = "mimitask_partner_role"
)

var (
	ErrAuthRequired   = errors.New("not signed in")
	ErrInvalidNames   = errors.New("both partner names are required")
	ErrInvalidName    = errors.New("partner name is required")
	ErrInvalidCode    = errors.New("invalid couple code format")
	ErrCoupleNotFound = errors.New("couple not found")
	ErrCoupleFull     = errors.New("couple already has two partners")
	ErrCodeGeneration = errors.New("could not generate a free couple code")
)

// Credentials are the anonymous identity handed out by the document server.
type Credentials struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// Authenticator signs in anonymously and carries credentials on later calls.
type Authenticator interface {
	SignInAnonymously(ctx context.Context) (Credentials, error)
	SetCredentials(c Credentials)
}

// Couples reads and writes the shared couple document.
type Couples interface {
	GetCouple(ctx context.Context, code string) (model.CoupleDoc, bool, error)
	CreateCouple(ctx context.Context, code string, cd model.CoupleDoc) error
	UpdateCouple(ctx context.Context, code string, fields map[string]any) error
}

// JoinResult describes a successful join.
type JoinResult struct {
	CoupleCode   string
	Role         model.PartnerRole
	PartnerAName string
}

// Session tracks who this device is and which couple it belongs to.
type Session struct {
	mu      sync.RWMutex
	uid     string
	code    string
	role    model.PartnerRole
	authn   Authenticator
	couples Couples
	storage store.Storage
	newCode func() (string, error)
	now     func() time.Time
	logger  *slog.Logger
}

type SessionOption func(*Session)

func WithCodeGenerator(fn func() (string, error)) SessionOption {
	return func(s *Session) { s.newCode = fn }
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func NewSession(authn Authenticator, couples Couples, storage store.Storage, opts ...SessionOption) *Session {
	s := &Session{
		authn:   authn,
		couples: couples,
		storage: storage,
		newCode: GenerateCode,
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) UID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

func (s *Session) CoupleCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

func (s *Session) Role() model.PartnerRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Linked reports whether the device is signed in and attached to a couple.
func (s *Session) Linked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid != "" && s.code != "" && s.role.Valid()
}

// Init signs in, reusing persisted credentials when present, then restores
// the couple link.
func (s *Session) Init(ctx context.Context) error {
	creds, ok := s.loadCredentials()
	if !ok {
		var err error
		creds, err = s.authn.SignInAnonymously(ctx)
		if err != nil {
			return fmt.Errorf("anonymous sign in: %w", err)
		}
		s.saveCredentials(creds)
	}
	s.authn.SetCredentials(creds)

	s.mu.Lock()
	s.uid = creds.UID
	s.mu.Unlock()

	s.RestoreCoupleLink(ctx)
	return nil
}

func (s *Session) loadCredentials() (Credentials, bool) {
	raw, ok, err := s.storage.Get(KeyCredentials)
	if err != nil || !ok {
		return Credentials{}, false
	}
	var c Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.UID == "" || c.Token == "" {
		s.logger.Warn("discarding stored credentials")
		return Credentials{}, false
	}
	return c, true
}

func (s *Session) saveCredentials(c Credentials) {
	blob, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.storage.Set(KeyCredentials, string(blob)); err != nil {
		s.logger.Warn("persist credentials", "error", err)
	}
}

// RestoreCoupleLink re-attaches a stored couple code. Unknown couples and
// couples that do not list this uid drop the stored code. Read failures
// keep it, together with the last known role, so an offline boot stays
// linked.
func (s *Session) RestoreCoupleLink(ctx context.Context) {
	code, ok, err := s.storage.Get(store.KeyCoupleCode)
	if err != nil || !ok || code == "" {
		return
	}
	uid := s.UID()
	if uid == "" {
		return
	}

	cd, exists, err := s.couples.GetCouple(ctx, code)
	if err != nil {
		s.logger.Warn("restore couple link offline", "code", code, "error", err)
		role, _, _ := s.storage.Get(KeyPartnerRole)
		s.mu.Lock()
		s.code = code
		if r := model.PartnerRole(role); r.Valid() {
			s.role = r
		}
		s.mu.Unlock()
		return
	}
	if !exists {
		s.logger.Info("stored couple no longer exists", "code", code)
		s.forgetCode()
		return
	}
	role, ok := cd.RoleOf(uid)
	if !ok {
		s.logger.Info("uid is not a member of stored couple", "code", code)
		s.forgetCode()
		return
	}
	s.link(code, role)
}

func (s *Session) forgetCode() {
	for _, key := range []string{store.KeyCoupleCode, KeyPartnerRole} {
		if err := s.storage.Delete(key); err != nil {
			s.logger.Warn("remove couple link", "key", key, "error", err)
		}
	}
	s.mu.Lock()
	s.code = ""
	s.role = ""
	s.mu.Unlock()
}

// CreateCouple registers a new couple with this device as partnerA and
// returns the generated code.
func (s *Session) CreateCouple(ctx context.Context, nameA, nameB string) (string, error) {
	uid := s.UID()
	if uid == "" {
		return "", ErrAuthRequired
	}
	a, errA := store.ValidatePartnerName(nameA)
	b, errB := store.ValidatePartnerName(nameB)
	if errA != nil || errB != nil {
		return "", ErrInvalidNames
	}

	code, err := s.freeCode(ctx)
	if err != nil {
		return "", err
	}

	cd := model.CoupleDoc{
		PartnerA:  model.RemotePartner{Name: a, AuthUID: uid},
		PartnerB:  model.RemotePartner{Name: b},
		Settings:  model.CoupleSettings{Theme: "default"},
		CreatedAt: s.now().UTC(),
	}
	if err := s.couples.CreateCouple(ctx, code, cd); err != nil {
		return "", fmt.Errorf("create couple: %w", err)
	}

	s.link(code, model.PartnerA)
	return code, nil
}

// freeCode draws codes until one is not taken. A read refused by the
// server counts as free: non-members may not see other couples.
func (s *Session) freeCode(ctx context.Context) (string, error) {
	for range MaxCodeRetries {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		_, exists, err := s.couples.GetCouple(ctx, code)
		if err != nil || !exists {
			return code, nil
		}
	}
	return "", ErrCodeGeneration
}

// JoinCouple claims the partnerB slot of an existing couple. Joining again
// with the same uid succeeds.
func (s *Session) JoinCouple(ctx context.Context, input, name string) (JoinResult, error) {
	uid := s.UID()
	if uid == "" {
		return JoinResult{}, ErrAuthRequired
	}
	code := NormalizeCode(input)
	if !ValidCode(code) {
		return JoinResult{}, ErrInvalidCode
	}
	clean, err := store.ValidatePartnerName(name)
	if err != nil {
		return JoinResult{}, ErrInvalidName
	}

	cd, exists, err := s.couples.GetCouple(ctx, code)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join couple: %w", err)
	}
	if !exists {
		return JoinResult{}, ErrCoupleNotFound
	}
	if cd.PartnerB.AuthUID != "" && cd.PartnerB.AuthUID != uid {
		return JoinResult{}, ErrCoupleFull
	}

	err = s.couples.UpdateCouple(ctx, code, map[string]any{
		"partnerB.name":    clean,
		"partnerB.authUid": uid,
	})
	if err != nil {
		return JoinResult{}, fmt.Errorf("join couple: %w", err)
	}

	s.link(code, model.PartnerB)
	return JoinResult{
		CoupleCode:   code,
		Role:         model.PartnerB,
		PartnerAName: cd.PartnerA.Name,
	}, nil
}

func (s *Session) link(code string, role model.PartnerRole) {
	if err := s.storage.Set(store.KeyCoupleCode, code); err != nil {
		s.logger.Warn("persist couple code", "error", err)
	}
	if err := s.storage.Set(KeyPartnerRole, string(role)); err != nil {
		s.logger.Warn("persist partner role", "error", err)
	}
	s.mu.Lock()
	s.code = code
	s.role = role
	s.mu.Unlock()
}

// Unlink forgets the couple on this device only.
func (s *Session) Unlink() {
	s.forgetCode()
}
