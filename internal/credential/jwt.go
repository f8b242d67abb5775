package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidIssuer   = errors.New("invalid token issuer")
	ErrInvalidAudience = errors.New("invalid token audience")
	ErrTokenExpired    = errors.New("token expired")
)

// JWTIssuer выпускает токены доступа к комнате. Используется SigningMethodRS256.
type JWTIssuer struct {
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

type Config struct {
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
}

func NewJWTIssuer(private *rsa.PrivateKey, public *rsa.PublicKey, cfg Config) *JWTIssuer {
	if public == nil && private != nil {
		public = &private.PublicKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &JWTIssuer{
		private:   private,
		public:    public,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
	}
}

// CheckKeyPair выпускает токен и сразу разбирает его тем же issuer-ом.
// Ловит несовпадающие private/public PEM до старта серверов.
func (s *JWTIssuer) CheckKeyPair(ctx context.Context) error {
	if s.private == nil || s.public == nil {
		return errors.New("signing keys are not configured")
	}
	cred, err := s.Issue(ctx, "keycheck", "keycheck", domain.RoleViewer)
	if err != nil {
		return err
	}
	if _, err := s.Parse(cred.Token); err != nil {
		return fmt.Errorf("key pair mismatch: %w", err)
	}
	return nil
}

type RoomClaims struct {
	jwt.StandardClaims // Subject = userID
	RoomID             string `json:"room"`
	Role               string `json:"role"`
	UID                string `json:"uid"`
}

// Issue выпускает JWT с sub=userID, room, role и exp=now+ttl.
func (s *JWTIssuer) Issue(ctx context.Context, roomID, userID string, role domain.Role) (domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return domain.Credential{}, err
	}
	if role == domain.RoleNone {
		return domain.Credential{}, fmt.Errorf("%w: role is required", domain.ErrInvalidInput)
	}

	now := s.now()
	exp := now.Add(s.ttl)
	claims := RoomClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  s.audience,
			IssuedAt:  now.Unix(),
			NotBefore: now.Add(-s.clockSkew).Unix(),
			ExpiresAt: exp.Unix(),
		},
		RoomID: roomID,
		Role:   role.String(),
		UID:    userID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.private)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("sign token: %w", err)
	}

	return domain.Credential{
		Token:     token,
		UID:       claims.UID,
		Role:      role,
		ExpiresAt: time.Unix(exp.Unix(), 0).UTC(),
	}, nil
}

// Parse проверяет подпись, issuer, audience и время жизни с допуском clockSkew.
func (s *JWTIssuer) Parse(tokenStr string) (*RoomClaims, error) {
	claims := &RoomClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.public, nil
	})
	if err != nil {
		// проверку времени делаем сами, ниже
		var ve *jwt.ValidationError
		if !errors.As(err, &ve) || ve.Errors&^(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet|jwt.ValidationErrorIssuedAt) != 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else if !token.Valid {
		return nil, ErrInvalidToken
	}

	if !claims.VerifyIssuer(s.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if !claims.VerifyAudience(s.audience, true) {
		return nil, ErrInvalidAudience
	}

	now := s.now()
	nbf := time.Unix(claims.NotBefore, 0).Add(-s.clockSkew)
	exp := time.Unix(claims.ExpiresAt, 0).Add(s.clockSkew)
	if now.Before(nbf) || now.After(exp) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// GenerateKey: ключ для dev-режима, когда пути к PEM не заданы. Токены не переживут рестарт.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

func LoadRSAPrivateKeyFromPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not RSA private key")
	}

	return pk, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}
