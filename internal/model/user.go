// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// パスワードはハッシュ値のみを保持し、平文は保存しない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// キャッシュ上にのみ存在し、有効期限（TTL）経過または明示的な破棄で消滅する。
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}
