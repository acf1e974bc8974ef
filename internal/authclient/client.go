// Package authclient は外部認証サービスとの連携機能を提供する。
// 認証サービスは /register と /login の2操作のみを公開するフラットファイル型の
// ユーザーストアで、本コアからはこの2つのネットワーク操作を通じてのみ利用する。
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/bakeman/internal/model"
)

// maxResponseSize は認証サービスのレスポンスボディの最大読み取りサイズ。
const maxResponseSize = 1 << 20

// RegisterInput は新規登録のリクエスト内容を表す。
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ShopName string `json:"shopName"`
	Name     string `json:"name"`
}

// Client は認証サービスAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは認証サービスのベースURL（末尾スラッシュなし）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// flexID は数値・文字列のどちらで届いてもよいユーザーIDを文字列として受け取る。
// 認証サービスはIDを数値（登録時刻のエポックミリ秒）で返すが、
// 実装差異に備えて文字列も受理する。
type flexID string

// UnmarshalJSON は数値または文字列のJSON値をIDとしてデコードする。
func (f *flexID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("user id must be a number or string: %w", err)
	}
	*f = flexID(s)
	return nil
}

// wireUser は認証サービスが返すユーザー表現。
type wireUser struct {
	ID       flexID `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	ShopName string `json:"shopName"`
}

// wireResponse は認証サービスの成功・失敗レスポンスの共通形。
type wireResponse struct {
	Message string    `json:"message"`
	User    *wireUser `json:"user"`
}

// Register は認証サービスに新規ユーザー登録を依頼する。
// メールアドレスが登録済みの場合はAUTH_DUPLICATE_EMAILエラーを返す。
func (c *Client) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	resp, err := c.post(ctx, "/register", input)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.statusCode == http.StatusBadRequest:
		// 認証サービスは重複メールをHTTP 400 {"message":"Email already exists"}で通知する
		return nil, model.NewDuplicateEmailError(input.Email)
	case resp.statusCode < 200 || resp.statusCode > 299:
		return nil, fmt.Errorf("auth service returned unexpected status %d for register", resp.statusCode)
	}

	user, err := resp.decodeUser()
	if err != nil {
		return nil, fmt.Errorf("failed to decode register response: %w", err)
	}

	// 登録レスポンスにname/shopNameが含まれない実装もあるため入力で補完する
	if user.Name == "" {
		user.Name = input.Name
	}
	if user.ShopName == "" {
		user.ShopName = input.ShopName
	}

	c.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Login は認証サービスにログインを依頼する。
// 資格情報が拒否された場合はAUTH_INVALID_CREDENTIALSエラーを返す。
func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.post(ctx, "/login", body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.statusCode == http.StatusUnauthorized:
		// 認証サービスはHTTP 401 {"message":"Invalid credentials"}で拒否を通知する
		return nil, model.NewInvalidCredentialsError()
	case resp.statusCode < 200 || resp.statusCode > 299:
		return nil, fmt.Errorf("auth service returned unexpected status %d for login", resp.statusCode)
	}

	user, err := resp.decodeUser()
	if err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	c.logger.Info("user logged in", slog.String("user_id", user.ID))
	return user, nil
}

// postResult はpostの結果（ステータスコードと読み取り済みボディ）を保持する。
type postResult struct {
	statusCode int
	body       []byte
}

// post はJSONボディをPOSTし、レスポンスボディを読み取って返す。
// 接続失敗はNETWORK_ERRORとして分類する。
func (c *Client) post(ctx context.Context, path string, payload any) (*postResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Bakeman/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("認証サービスの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError()
	}

	return &postResult{statusCode: resp.StatusCode, body: body}, nil
}

// decodeUser は成功レスポンスからユーザーを取り出し、型付きのUserに変換する。
// CreatedAtは認証サービスが返さないため受信時刻で補う。
func (r *postResult) decodeUser() (*model.User, error) {
	var wire wireResponse
	if err := json.Unmarshal(r.body, &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if wire.User == nil {
		return nil, fmt.Errorf("response has no user object")
	}
	id := string(wire.User.ID)
	if id == "" {
		return nil, fmt.Errorf("response user has no id")
	}

	return &model.User{
		ID:        id,
		Email:     wire.User.Email,
		Name:      wire.User.Name,
		ShopName:  wire.User.ShopName,
		CreatedAt: time.Now(),
	}, nil
}
