package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/historica-labs/historica-go/internal/domain"
	"github.com/historica-labs/historica-go/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func encodeOwner(owner domain.Owner) ([]byte, error) {
	if owner == nil {
		owner = domain.Owner{}
	}
	return json.Marshal(owner)
}

func decodeOwner(raw []byte) (domain.Owner, error) {
	if len(raw) == 0 {
		return domain.Owner{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Owner(out), nil
}

func encodeLikedBy(likedBy []string) ([]byte, error) {
	if likedBy == nil {
		likedBy = []string{}
	}
	return json.Marshal(likedBy)
}

func decodeLikedBy(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// likedByEntry encodes a single user id as a one-element JSON array, the
// form both the @> containment check and the || append operator expect.
func likedByEntry(userID string) ([]byte, error) {
	return json.Marshal([]string{userID})
}

// escapeLike makes a raw fragment safe inside an ILIKE pattern so that
// % and _ in the fragment match literally.
func escapeLike(fragment string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(fragment)
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}
