package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/config"

	"github.com/dgrijalva/jwt-go"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity 已认证的调用者
type Identity struct {
	UserID uint
	Role   string
}

var ErrNoSigningKey = errors.New("jwt signing key is not configured")

type JWTService interface {
	GenerateToken(id Identity) (string, error)
	ValidateToken(tokenString string) (*Identity, error)
}

type jWTServiceImpl struct {
	issuer string
	key    []byte
}

func NewJWTService() JWTService {
	cfg := config.GetConfig()
	return &jWTServiceImpl{issuer: cfg.JwtIssuer, key: cfg.JwtKey}
}

func NewJWTServiceWithKey(issuer string, key []byte) JWTService {
	return &jWTServiceImpl{issuer: issuer, key: key}
}

// GenerateToken generates JWT token
func (j *jWTServiceImpl) GenerateToken(id Identity) (string, error) {
	if len(j.key) == 0 {
		return "", ErrNoSigningKey
	}
	claims := jwt.MapClaims{
		"iss":    j.issuer,
		"userid": id.UserID,
		"role":   id.Role,
		"exp":    time.Now().Add(time.Hour * 24).Unix(), // Token valid for 24 hours
		"iat":    time.Now().Unix(),
	}

	// Create token object using HS256 signing
	token := jwt.New(jwt.SigningMethodHS256)
	token.Claims = claims

	return token.SignedString(j.key)
}

func (j *jWTServiceImpl) ValidateToken(tokenString string) (*Identity, error) {
	// 空密钥下任何人都能伪造 token
	if len(j.key) == 0 {
		return nil, ErrNoSigningKey
	}
	// Parse token string, ignore "Bearer " prefix
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if !claims.VerifyIssuer(j.issuer, true) {
		return nil, fmt.Errorf("issuer validation failed")
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return nil, fmt.Errorf("token expired")
	}

	userID, ok := claims["userid"].(float64) // JSON numbers are parsed as float64 by default
	if !ok {
		return nil, errors.New("userid claim missing or invalid type")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleCustomer
	}
	return &Identity{UserID: uint(userID), Role: role}, nil
}
