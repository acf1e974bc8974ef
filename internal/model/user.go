// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（店舗オペレーター）を表す。
// IDは登録時に認証サービスが採番する。Emailは全ユーザーで一意。
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ShopName  string    `json:"shopName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session はクライアントインスタンスごとのセッションスナップショットを表す。
// 実行中のクライアントインスタンスにつきアクティブなSessionは常に1つ。
type Session struct {
	User            *User `json:"user,omitempty"`
	IsAuthenticated bool  `json:"isAuthenticated"`
	IsLoading       bool  `json:"isLoading"`
}
