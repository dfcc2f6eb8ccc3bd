package keygen

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// Prefix отличает ключи новой схемы от legacy ключей
const Prefix = "KP-"

const (
	groups     = 4
	groupSize  = 5
	alphabet   = "0123456789ABCDEFGHJKMNPQRSTVWXYZ" // Crockford base32
	bitsPerSym = 5
)

// Generator выпускает строки лицензионных ключей
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator генерирует ключи вида KP-XXXXX-XXXXX-XXXXX-XXXXX (100 случайных бит)
type RandomGenerator struct {
	source io.Reader
}

// NewGenerator создает генератор на crypto/rand
func NewGenerator() *RandomGenerator {
	return &RandomGenerator{source: rand.Reader}
}

// NewGeneratorWithSource создает генератор с заданным источником случайности
func NewGeneratorWithSource(source io.Reader) *RandomGenerator {
	return &RandomGenerator{source: source}
}

// Generate возвращает новый ключ. Уникальность проверяет хранилище.
func (g *RandomGenerator) Generate() (string, error) {
	// 20 символов по 5 бит = 100 бит = 13 байт (4 бита не используются)
	raw := make([]byte, 13)
	if _, err := io.ReadFull(g.source, raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	b.Grow(len(Prefix) + groups*groupSize + groups - 1)
	b.WriteString(Prefix)

	for i := 0; i < groups*groupSize; i++ {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[symbolAt(raw, i)])
	}
	return b.String(), nil
}

// symbolAt извлекает i-й 5-битный символ из потока байт
func symbolAt(raw []byte, i int) byte {
	bit := i * bitsPerSym
	idx, offset := bit/8, bit%8

	v := uint16(raw[idx]) << 8
	if idx+1 < len(raw) {
		v |= uint16(raw[idx+1])
	}
	return byte(v>>(16-bitsPerSym-offset)) & 0x1F
}

// IsNewFormat сообщает, выпущен ли ключ этим генератором
func IsNewFormat(key string) bool {
	if !strings.HasPrefix(key, Prefix) {
		return false
	}
	body := strings.Split(strings.TrimPrefix(key, Prefix), "-")
	if len(body) != groups {
		return false
	}
	for _, group := range body {
		if len(group) != groupSize {
			return false
		}
		for _, c := range group {
			if !strings.ContainsRune(alphabet, c) {
				return false
			}
		}
	}
	return true
}
