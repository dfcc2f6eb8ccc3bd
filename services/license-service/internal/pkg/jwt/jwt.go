package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Роли операторов, которым доступен административный API
const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleReseller  = "reseller"
)

// Claims данные оператора в административном токене
type Claims struct {
	Role        string `json:"role"`
	DeveloperID int64  `json:"developer_id,omitempty"`
	ResellerID  int64  `json:"reseller_id,omitempty"`
	jwt.RegisteredClaims
}

// Manager выпускает и проверяет административные токены (HS256)
type Manager struct {
	secretKey string
	issuer    string
	ttl       time.Duration
}

// NewManager создает новый экземпляр JWT менеджера
func NewManager(secretKey, issuer string, ttl time.Duration) *Manager {
	return &Manager{secretKey: secretKey, issuer: issuer, ttl: ttl}
}

// Generate выпускает токен для оператора
func (m *Manager) Generate(subject, role string, developerID, resellerID int64) (string, error) {
	switch role {
	case RoleAdmin, RoleDeveloper, RoleReseller:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := time.Now().UTC()
	claims := &Claims{
		Role:        role,
		DeveloperID: developerID,
		ResellerID:  resellerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// Validate проверяет подпись, срок и издателя токена
func (m *Manager) Validate(token string) (*Claims, error) {
	parsedToken, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || !parsedToken.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
