// Package session はクライアント側のログイン状態（トークン、利用者情報、ログイン失敗回数、画像認証）を保持します。
// トークンと利用者情報だけが Storage に永続化され、失敗回数と画像認証は起動中のみ保持されます。
package session

import (
	"encoding/json"
	"fmt"
	"sync"
)

const (
	keyToken    = "token"
	keyUserInfo = "userInfo"

	// CaptchaThreshold 回失敗すると画像認証を表示します。
	CaptchaThreshold = 3
)

// UserInfo はログイン中の利用者情報です。
type UserInfo struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Gender      string `json:"gender,omitempty"`
}

// State はセッション状態のスナップショットです。
type State struct {
	Token         string
	LoginAttempts int
	UserInfo      *UserInfo
	ShowCaptcha   bool
	CaptchaID     string
	CaptchaImage  string
}

// Store はセッション状態を保持します。並行に使用できます。
type Store struct {
	mu      sync.Mutex
	storage Storage
	state   State
}

// Open は storage から token と userInfo を読み込んで Store を作成します。
// "undefined" / "null" / 空文字は未設定とみなし、解析できない userInfo は storage から削除します。
func Open(storage Storage) (*Store, error) {
	s := &Store{storage: storage}

	token, err := load(storage, keyToken)
	if err != nil {
		return nil, err
	}
	s.state.Token = token

	raw, err := load(storage, keyUserInfo)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		var info UserInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			if err := storage.Delete(keyUserInfo); err != nil {
				return nil, fmt.Errorf("remove corrupt userInfo: %w", err)
			}
		} else {
			s.state.UserInfo = &info
		}
	}
	return s, nil
}

func load(storage Storage, key string) (string, error) {
	v, ok, err := storage.Get(key)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || absent(v) {
		return "", nil
	}
	return v, nil
}

func absent(v string) bool {
	return v == "" || v == "undefined" || v == "null"
}

// Snapshot は現在の状態のコピーを返します。
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.UserInfo != nil {
		info := *st.UserInfo
		st.UserInfo = &info
	}
	return st
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// IncrementLoginAttempts は失敗回数を1増やし、増加後の値を返します。
func (s *Store) IncrementLoginAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LoginAttempts++
	if s.state.LoginAttempts >= CaptchaThreshold {
		s.state.ShowCaptcha = true
	}
	return s.state.LoginAttempts
}

// SyncLoginAttempts はサーバーが返した失敗回数に合わせます。
func (s *Store) SyncLoginAttempts(n int, showCaptcha bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LoginAttempts = max(n, 0)
	s.state.ShowCaptcha = showCaptcha || s.state.LoginAttempts >= CaptchaThreshold
}

func (s *Store) ResetLoginAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LoginAttempts = 0
	s.state.ShowCaptcha = false
}

// SetToken はトークンを設定して永続化します。
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Put(keyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.state.Token = token
	return nil
}

// SetUserInfo は利用者情報を JSON で永続化します。
func (s *Store) SetUserInfo(info *UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := s.storage.Put(keyUserInfo, string(data)); err != nil {
		return fmt.Errorf("save userInfo: %w", err)
	}
	if info != nil {
		copied := *info
		info = &copied
	}
	s.state.UserInfo = info
	return nil
}

func (s *Store) SetCaptcha(id, image string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CaptchaID = id
	s.state.CaptchaImage = image
}

// Logout はすべての状態を消去し、永続化したキーも削除します。
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	if err := s.storage.Delete(keyToken); err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	if err := s.storage.Delete(keyUserInfo); err != nil {
		return fmt.Errorf("remove userInfo: %w", err)
	}
	return nil
}

// IsLoggedIn はトークンと手机号付きの利用者情報が揃っているかを返します。
func (s *Store) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token != "" && s.state.UserInfo != nil && s.state.UserInfo.PhoneNumber != ""
}

func (s *Store) NeedsCaptcha() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ShowCaptcha
}
