package internal

import (
	"context"
	"errors"
	"sync"
)

// 帳號驗證是外部協作者：這裡只定義邊界介面與一個記憶體實作，
// 憑證雜湊與持久儲存不在本服務範圍內。

// 驗證層錯誤
var (
	// ErrInvalidCredentials 帳號或密碼錯誤
	ErrInvalidCredentials = errors.New("帳號或密碼錯誤")

	// ErrAlreadyOnline 同一帳號已在別處登入
	ErrAlreadyOnline = errors.New("帳號已在別處登入")

	// ErrUsernameTaken 註冊時帳號名稱已存在
	ErrUsernameTaken = errors.New("帳號名稱已存在")
)

// User 已驗證的使用者
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Authenticator 驗證協作者的邊界介面
type Authenticator interface {
	// Login 驗證帳密並將使用者標記為在線；重複登入回傳 ErrAlreadyOnline
	Login(ctx context.Context, username, password string) (*User, error)

	// Register 建立新帳號；名稱重複回傳 ErrUsernameTaken
	Register(ctx context.Context, username, password string) (*User, error)

	// Logout 清除使用者的在線標記
	Logout(ctx context.Context, userID int) error
}

type memoryUser struct {
	id       int
	username string
	password string
	online   bool
}

// MemoryAuthenticator 記憶體驗證器；測試與未接資料庫時的預設實作
type MemoryAuthenticator struct {
	mu     sync.Mutex
	byName map[string]*memoryUser
	byID   map[int]*memoryUser
	nextID int
}

// NewMemoryAuthenticator 創建記憶體驗證器
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{
		byName: make(map[string]*memoryUser),
		byID:   make(map[int]*memoryUser),
		nextID: 1,
	}
}

func (a *MemoryAuthenticator) Login(_ context.Context, username, password string) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, exists := a.byName[username]
	if !exists || u.password != password {
		return nil, ErrInvalidCredentials
	}
	if u.online {
		return nil, ErrAlreadyOnline
	}

	u.online = true
	return &User{ID: u.id, Username: u.username}, nil
}

func (a *MemoryAuthenticator) Register(_ context.Context, username, password string) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byName[username]; exists {
		return nil, ErrUsernameTaken
	}

	u := &memoryUser{id: a.nextID, username: username, password: password}
	a.nextID++
	a.byName[username] = u
	a.byID[u.id] = u

	return &User{ID: u.id, Username: u.username}, nil
}

func (a *MemoryAuthenticator) Logout(_ context.Context, userID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if u, exists := a.byID[userID]; exists {
		u.online = false
	}
	return nil
}
