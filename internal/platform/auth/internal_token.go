package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// InternalToken 校验内部接口的共享 token；只保存 bcrypt 哈希
type InternalToken struct {
	hash []byte
}

// NewInternalToken 哈希为空时任何 token 都不通过
func NewInternalToken(hash string) *InternalToken {
	return &InternalToken{hash: []byte(hash)}
}

func (t *InternalToken) Enabled() bool {
	return t != nil && len(t.hash) > 0
}

func (t *InternalToken) Check(token string) bool {
	if !t.Enabled() || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(t.hash, []byte(token)) == nil
}

func HashInternalToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
