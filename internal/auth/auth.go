// Package auth guards the administrative HTTP routes (setup jobs, archived
// transcripts) with static bearer keys. When no key is configured the guard
// is disabled and every request passes through.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"Rivalz-Swarm/pkg/logger"
)

// 认证失败的原因。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Key 是一把命名的访问密钥，Name 用于审计日志。
type Key struct {
	Name   string
	Secret string
}

// Subject 是认证通过的调用方。
type Subject struct {
	Name string
}

// Service 校验请求携带的 Bearer 密钥。
type Service struct {
	keys  []hashedKey
	audit *slog.Logger
}

type hashedKey struct {
	name string
	sum  [32]byte
}

// Option 定义可选配置。
type Option func(*Service)

// WithAuditLogger 指定审计日志记录器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// New 创建认证服务，空密钥会被忽略。
func New(keys []Key, opts ...Option) *Service {
	s := &Service{}
	for i, k := range keys {
		secret := strings.TrimSpace(k.Secret)
		if secret == "" {
			continue
		}
		name := strings.TrimSpace(k.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i+1)
		}
		s.keys = append(s.keys, hashedKey{name: name, sum: sha256.Sum256([]byte(secret))})
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enabled 判断是否配置了任何密钥。
func (s *Service) Enabled() bool {
	return s != nil && len(s.keys) > 0
}

// AuthenticateRequest 解析 Authorization 头并返回匹配的调用方。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(sum[:], k.sum[:]) == 1 {
			return &Subject{Name: k.name}, nil
		}
	}
	return nil, ErrInvalidToken
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return logger.Audit()
}
