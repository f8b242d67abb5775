package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

// ErrInvalidCursor: битый курсор от клиента, транспорт отдаёт 400.
var ErrInvalidCursor = fmt.Errorf("%w: invalid cursor", domain.ErrInvalidInput)

// Cursor: позиция в выдаче, упорядоченной по (created_at DESC, id DESC).
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode: пустая строка означает начало выдачи (nil, nil).
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidCursor)
	}
	return &c, nil
}

// Next строит курсор следующей страницы, если страница заполнена целиком.
func Next(n, limit int, last func() Cursor) (string, error) {
	if n == 0 || n < limit {
		return "", nil
	}
	return Encode(last())
}
