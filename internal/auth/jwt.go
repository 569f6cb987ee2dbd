package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtSecretKey signs terminal session tokens. Overridable via the
// environment; the fallback is for local development only.
var jwtSecretKey = func() []byte {
	if key := os.Getenv("JWT_SECRET"); key != "" {
		return []byte(key)
	}
	return []byte("A_VERY_SECURE_SECRET_KEY_REPLACE_LATER")
}()

// Claims carried by a terminal session token: which cashier, which store.
type Claims struct {
	UserID  int64
	StoreID int64
}

// GenerateToken creates a new JWT for a cashier session at one store.
func GenerateToken(userID, storeID int64) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID, // the cashier
		"store": storeID,
		"exp":   time.Now().Add(time.Hour * 72).Unix(),
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(jwtSecretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken parses and validates a JWT token string, returning the
// cashier and store claims when the token is valid.
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecretKey, nil
	})
	if err != nil {
		return nil, err // expired, malformed, or badly signed
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	userID, ok := claims["sub"].(float64)
	if !ok {
		return nil, errors.New("invalid subject claim")
	}
	storeID, ok := claims["store"].(float64)
	if !ok {
		return nil, errors.New("invalid store claim")
	}

	return &Claims{UserID: int64(userID), StoreID: int64(storeID)}, nil
}
