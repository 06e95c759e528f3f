// Package auth manages operator accounts and cookie sessions for the
// control surface. Operators are the humans running the engine, not the
// MT accounts it drives.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/j5272000/campus-imaotai/internal/db"
	"github.com/j5272000/campus-imaotai/internal/errs"
)

const (
	cookieName = "campusimt_session"
	cookieAge  = 14 * 24 * time.Hour
)

const operatorIDKey = "operatorID"

type Store struct {
	sc *securecookie.SecureCookie
	db *db.DB
}

func NewStore(d *db.DB, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(cookieAge.Seconds()))
	return &Store{sc: sc, db: d}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (s *Store) CreateOperator(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO operators (username, password_bcrypt) VALUES ($1,$2)`, username, hash)
	return err
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash string
	err := s.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM operators WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		return 0, db.WrapNotFound(err)
	}
	if !CheckPassword(hash, password) {
		return 0, errs.New("invalid credentials")
	}
	return id, nil
}

func (s *Store) SetSession(c *gin.Context, operatorID int64) error {
	encoded, err := s.sc.Encode(cookieName, map[string]any{"oid": operatorID, "v": 1})
	if err != nil {
		return err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Request.TLS != nil,
		MaxAge:   int(cookieAge.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) sessionOperator(r *http.Request) (int64, bool) {
	ck, err := r.Cookie(cookieName)
	if err != nil {
		return 0, false
	}
	val := map[string]any{}
	if err := s.sc.Decode(cookieName, ck.Value, &val); err != nil {
		return 0, false
	}
	switch v := val["oid"].(type) {
	case int64:
		return v, v > 0
	case float64:
		return int64(v), v > 0
	default:
		return 0, false
	}
}

// RequireOperator rejects unauthenticated requests with a JSON 401.
func (s *Store) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, ok := s.sessionOperator(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set(operatorIDKey, oid)
		c.Next()
	}
}

// OperatorID reads the authenticated operator from the request context.
func OperatorID(c *gin.Context) int64 {
	if v, ok := c.Get(operatorIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// GenerateKeys produces a fresh securecookie hash/block key pair.
func GenerateKeys() (hashKey, blockKey []byte) {
	return securecookie.GenerateRandomKey(64), securecookie.GenerateRandomKey(32)
}
