package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"
)

// Области, в которых выпускается токен
const (
	ScopeApp  = "app"
	ScopeGame = "game"
)

const derivedKeyLen = 32

// Signer подписывает токены успешной аутентификации.
// Токен не является учетными данными: срок в нем не кодируется, клиент
// проверяет лицензию заново перед каждым привилегированным действием.
type Signer struct {
	activeID string
	keys     map[string][]byte
	order    []string
}

// NewSigner создает подписчик по набору секретов. activeID выбирает ключ для
// новых токенов, остальные принимаются при проверке (ротация).
func NewSigner(secrets map[string]string, activeID string) (*Signer, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no token secrets configured")
	}
	if _, ok := secrets[activeID]; !ok {
		return nil, fmt.Errorf("active token key %q is not configured", activeID)
	}

	s := &Signer{activeID: activeID, keys: make(map[string][]byte, len(secrets))}
	for id, secret := range secrets {
		if secret == "" {
			return nil, fmt.Errorf("token secret %q is empty", id)
		}
		key, err := deriveKey(id, secret)
		if err != nil {
			return nil, err
		}
		s.keys[id] = key
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)
	return s, nil
}

// ActiveKeyID возвращает идентификатор ключа, которым подписываются новые токены
func (s *Signer) ActiveKeyID() string {
	return s.activeID
}

// Sign возвращает hex HMAC-SHA256 от области, идентификатора приложения или игры,
// ключа лицензии и HWID
func (s *Signer) Sign(scope, identifier, licenseKey, hwid string) string {
	return hex.EncodeToString(mac(s.keys[s.activeID], scope, identifier, licenseKey, hwid))
}

// Verify проверяет токен любым из настроенных ключей
func (s *Signer) Verify(token, scope, identifier, licenseKey, hwid string) bool {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	for _, id := range s.order {
		if hmac.Equal(raw, mac(s.keys[id], scope, identifier, licenseKey, hwid)) {
			return true
		}
	}
	return false
}

func deriveKey(id, secret string) ([]byte, error) {
	key := make([]byte, derivedKeyLen)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("license-token/"+id))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive token key %q: %w", id, err)
	}
	return key, nil
}

// mac поля кодируются с префиксом длины, чтобы ("ab","c") и ("a","bc") давали разные токены
func mac(key []byte, fields ...string) []byte {
	h := hmac.New(sha256.New, key)
	var length [4]byte
	for _, field := range fields {
		binary.BigEndian.PutUint32(length[:], uint32(len(field)))
		h.Write(length[:])
		h.Write([]byte(field))
	}
	return h.Sum(nil)
}
