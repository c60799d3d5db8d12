package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	// Upstox tokens are valid for about a day; refresh proactively when less
	// than an hour remains.
	tokenValidity  = 23 * time.Hour
	refreshMargin  = 1 * time.Hour
	stateTokenKey  = "broker_access_token"
	stateExpiryKey = "broker_token_expires_at"
)

// TokenStore is the subset of storage the session needs to persist the
// refreshed token across restarts.
type TokenStore interface {
	GetState(key string) (string, error)
	SetState(key, value string) error
}

// Session owns the broker access token. Refresh is serialized; in-flight
// callers wait on the mutex until the refresh completes.
type Session struct {
	mu           sync.Mutex
	client       *resty.Client
	store        TokenStore
	logger       *logrus.Logger
	clientID     string
	clientSecret string
	refreshToken string
	accessToken  string
	expiresAt    time.Time
}

// NewSession builds a session seeded from config, preferring a persisted
// token when one is still valid.
func NewSession(baseURL, accessToken, refreshToken, clientID, clientSecret string,
	store TokenStore, logger *logrus.Logger) *Session {
	s := &Session{
		client:       resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		store:        store,
		logger:       logger,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		accessToken:  accessToken,
		expiresAt:    time.Now().Add(tokenValidity),
	}
	s.loadPersisted()
	return s
}

func (s *Session) loadPersisted() {
	if s.store == nil {
		return
	}
	tok, err := s.store.GetState(stateTokenKey)
	if err != nil || tok == "" {
		return
	}
	expStr, err := s.store.GetState(stateExpiryKey)
	if err != nil {
		return
	}
	unix, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return
	}
	exp := time.Unix(unix, 0)
	if time.Until(exp) > refreshMargin {
		s.accessToken = tok
		s.expiresAt = exp
		s.logger.Debug("restored persisted broker token")
	}
}

// Token returns a valid access token, refreshing proactively when less than
// an hour of validity remains.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Until(s.expiresAt) > refreshMargin {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// ForceRefresh discards the current token and performs one refresh
// roundtrip. Used after the broker reports AuthExpired.
func (s *Session) ForceRefresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// Valid reports whether a usable token is held.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken != "" && time.Now().Before(s.expiresAt)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" || s.clientID == "" {
		return NewError(KindFatal, 0, "no refresh credentials configured")
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
			"refresh_token": s.refreshToken,
			"grant_type":    "refresh_token",
		}).
		SetResult(&out).
		Post("/login/authorization/token")
	if err != nil {
		return NewError(KindTransient, 0, fmt.Sprintf("token refresh: %v", err))
	}
	if resp.IsError() {
		return NewError(KindFatal, resp.StatusCode(),
			fmt.Sprintf("token refresh rejected: %s", resp.String()))
	}
	if out.AccessToken == "" {
		// Some gateways wrap the payload.
		var wrapped struct {
			Data struct {
				AccessToken string `json:"access_token"`
			} `json:"data"`
		}
		if json.Unmarshal(resp.Body(), &wrapped) == nil {
			out.AccessToken = wrapped.Data.AccessToken
		}
	}
	if out.AccessToken == "" {
		return NewError(KindFatal, resp.StatusCode(), "token refresh returned no access token")
	}

	s.accessToken = out.AccessToken
	s.expiresAt = time.Now().Add(tokenValidity)
	s.persistLocked()
	s.logger.Info("broker session token refreshed")
	return nil
}

func (s *Session) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.SetState(stateTokenKey, s.accessToken); err != nil {
		s.logger.WithError(err).Error("persist access token")
		return
	}
	if err := s.store.SetState(stateExpiryKey, strconv.FormatInt(s.expiresAt.Unix(), 10)); err != nil {
		s.logger.WithError(err).Error("persist token expiry")
	}
}
