package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/notify"
	"github.com/hitoshi/ticketdesk/internal/storage"
)

// 永続化キー
const (
	// SessionKey は現在のセッションを保存するキー。
	SessionKey = "session"
	// UsersKey は登録済みユーザー一覧を保存するキー。
	UsersKey = "users"
)

// MinPasswordLength はサインアップ時のパスワードの最小文字数。
const MinPasswordLength = 6

// Store は現在のセッションと登録済みユーザー一覧を管理する認証ストア。
// ワークスペースごとに1つ生成し、同一ワークスペースへの操作は直列化される。
//
// 資格情報は平文で保存・比較される。ハッシュ化は認証方式の変更として別途扱う。
type Store struct {
	kv       storage.KV
	notifier notify.Notifier

	mu      sync.Mutex
	current *model.Session
}

// NewStore はStoreを生成する。notifierがnilの場合は通知を行わない。
// 生成直後は未認証状態のため、RestoreSessionで保存済みセッションを復元すること。
func NewStore(kv storage.KV, notifier notify.Notifier) *Store {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Store{
		kv:       kv,
		notifier: notifier,
	}
}

// IsAuthenticated はセッションが存在するかどうかを返す。
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// CurrentSession は現在のセッションを返す。未認証の場合はok=false。
func (s *Store) CurrentSession() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Session{}, false
	}
	return *s.current, true
}

// RestoreSession は保存済みセッションを読み込んで状態に反映する。
// 有効なセッションがあればtrueを返す。
// 内容が壊れている場合はキーを削除し、未認証状態にしてfalseを返す。
// 読み込み自体に失敗した場合はキーを残し、未認証状態にするだけにとどめる。
// エラーは呼び出し元に返さない。
func (s *Store) RestoreSession(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	raw, ok, err := s.kv.Get(ctx, SessionKey)
	if err != nil {
		slog.Warn("failed to read session",
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		return false
	}

	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.Email == "" {
		if err != nil {
			slog.Warn("discarding unreadable session",
				slog.String("error", err.Error()),
			)
		}
		if delErr := s.kv.Delete(ctx, SessionKey); delErr != nil {
			slog.Error("failed to clear session key",
				slog.String("error", delErr.Error()),
			)
		}
		return false
	}

	s.current = &session
	return true
}

// Login はメールアドレスとパスワードが完全一致するユーザーでログインする。
// 成功時はパスワードを含まないセッションを保存して返す。
// 失敗時はユーザー向けメッセージを持つ*model.APIErrorを返し、状態は変更しない。
func (s *Store) Login(ctx context.Context, email, password string) (model.Session, error) {
	if email == "" || password == "" {
		return s.fail(model.NewValidationError("email/password", "メールアドレスとパスワードを入力してください。"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers(ctx)
	if err != nil {
		slog.Error("failed to read users",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageReadError("ユーザー情報"))
	}

	for _, u := range users {
		if u.Email == email && u.Password == password {
			session := model.SessionOf(u)
			if err := s.writeSession(ctx, session); err != nil {
				slog.Error("failed to write session",
					slog.String("error", err.Error()),
				)
				return s.fail(model.NewStorageWriteError("セッション"))
			}
			s.current = &session
			slog.Info("user logged in", slog.String("email", email))
			s.notifier.Success("ログインしました。")
			return session, nil
		}
	}

	slog.Warn("login rejected", slog.String("email", email))
	return s.fail(model.NewInvalidCredentialsError())
}

// Signup はユーザーを登録し、そのままログイン状態にする。
// 空のフィールド、MinPasswordLength未満のパスワード、登録済みのメールアドレス（大文字小文字を区別した完全一致）は失敗となり、
// その場合ユーザー一覧は変更しない。
func (s *Store) Signup(ctx context.Context, email, password, name string) (model.Session, error) {
	if email == "" || password == "" || name == "" {
		return s.fail(model.NewValidationError("email/password/name", "すべての項目を入力してください。"))
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return s.fail(model.NewValidationError("password", "パスワードは6文字以上で入力してください。"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers(ctx)
	if err != nil {
		slog.Error("failed to read users",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageReadError("ユーザー情報"))
	}

	for _, u := range users {
		if u.Email == email {
			return s.fail(model.NewEmailTakenError())
		}
	}

	user := model.User{Email: email, Password: password, Name: name}
	next := make([]model.User, 0, len(users)+1)
	next = append(next, users...)
	next = append(next, user)

	data, err := json.Marshal(next)
	if err != nil {
		return s.fail(model.NewStorageWriteError("ユーザー情報"))
	}
	if err := s.kv.Set(ctx, UsersKey, string(data)); err != nil {
		slog.Error("failed to write users",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageWriteError("ユーザー情報"))
	}

	session := model.SessionOf(user)
	if err := s.writeSession(ctx, session); err != nil {
		// ユーザーは登録済み。ログインからやり直せる。
		slog.Error("failed to write session after signup",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageWriteError("セッション"))
	}
	s.current = &session

	slog.Info("user signed up", slog.String("email", email))
	s.notifier.Success("アカウントを作成しました。")
	return session, nil
}

// Logout はセッションキーを削除し、未認証状態にする。
// キーの削除に失敗しても状態はクリアし、エラーを返す。
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if err := s.kv.Delete(ctx, SessionKey); err != nil {
		slog.Error("failed to delete session",
			slog.String("error", err.Error()),
		)
		return model.NewStorageWriteError("セッション")
	}

	s.notifier.Success("ログアウトしました。")
	return nil
}

// readUsers はユーザー一覧を読み込む。キーが存在しない場合は空の一覧を返す。
func (s *Store) readUsers(ctx context.Context) ([]model.User, error) {
	raw, ok, err := s.kv.Get(ctx, UsersKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var users []model.User
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) writeSession(ctx context.Context, session model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, SessionKey, string(data))
}

// fail はエラーを通知して返す。
func (s *Store) fail(apiErr *model.APIError) (model.Session, error) {
	s.notifier.Error(apiErr.Message)
	return model.Session{}, apiErr
}
