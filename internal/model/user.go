// Package model はドメインモデルを定義する。
package model

// User は登録済みユーザーを表す。
// ユーザー一覧として永続化ストアの1キーにJSON配列で保存される。
// パスワードは平文のまま保持される（既知の弱点。ハッシュ化は認証方式の変更として別途扱う）。
type User struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Session はログイン中のユーザーを表す。
// パスワードは含まない。ストアにセッションが存在することが唯一の認証状態となる。
type Session struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionOf はUserからパスワードを除いたSessionを生成する。
func SessionOf(u User) Session {
	return Session{Email: u.Email, Name: u.Name}
}
