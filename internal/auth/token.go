package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// SessionClaims 会话令牌声明，载荷字段与 Identity 的 JSON 一致
type SessionClaims struct {
	Username       string `json:"username"`
	Role           string `json:"role"`
	UserID         int64  `json:"userId,omitempty"`
	MailboxAddress string `json:"mailboxAddress,omitempty"`
	MailboxID      int64  `json:"mailboxId,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager 负责会话令牌的签发与校验 (HS256)
type TokenManager struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewTokenManager 创建会话令牌管理器
func NewTokenManager(secret, issuer string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}
}

// Issue 为身份签发会话令牌，返回令牌与过期时间
func (m *TokenManager) Issue(id Identity) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.expiry)

	subject := id.Username
	if id.UserID != 0 {
		subject = strconv.FormatInt(id.UserID, 10)
	}

	claims := SessionClaims{
		Username:       id.Username,
		Role:           id.Role,
		UserID:         id.UserID,
		MailboxAddress: id.MailboxAddress,
		MailboxID:      id.MailboxID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify 校验签名与有效期并返回身份
func (m *TokenManager) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &Identity{
		Username:       claims.Username,
		Role:           claims.Role,
		UserID:         claims.UserID,
		MailboxAddress: claims.MailboxAddress,
		MailboxID:      claims.MailboxID,
	}, nil
}

// Expiry 返回会话有效期
func (m *TokenManager) Expiry() time.Duration {
	return m.expiry
}
