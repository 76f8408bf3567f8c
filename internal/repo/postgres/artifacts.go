package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/historica-labs/historica-go/internal/domain"
	"github.com/historica-labs/historica-go/internal/repo"
)

const artifactColumns = `artifact_id, name, image, type, historical_context, created_era, discovered_at, discovered_by, present_location, added_by, likes, liked_by, date_added`

type ArtifactStore struct {
	db DB
}

func NewArtifactStore(db DB) *ArtifactStore {
	if db == nil {
		return nil
	}
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) Create(ctx context.Context, artifact domain.Artifact) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	if err := artifact.Validate(); err != nil {
		return err
	}
	ownerJSON, err := encodeOwner(artifact.AddedBy)
	if err != nil {
		return fmt.Errorf("encode added_by: %w", err)
	}
	likedByJSON, err := encodeLikedBy(artifact.LikedBy)
	if err != nil {
		return fmt.Errorf("encode liked_by: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (
			artifact_id,
			name,
			image,
			type,
			historical_context,
			created_era,
			discovered_at,
			discovered_by,
			present_location,
			added_by,
			likes,
			liked_by,
			date_added
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		strings.TrimSpace(artifact.ID),
		strings.TrimSpace(artifact.Name),
		strings.TrimSpace(artifact.Image),
		strings.TrimSpace(artifact.Type),
		strings.TrimSpace(artifact.HistoricalContext),
		strings.TrimSpace(artifact.CreatedEra),
		strings.TrimSpace(artifact.DiscoveredAt),
		strings.TrimSpace(artifact.DiscoveredBy),
		strings.TrimSpace(artifact.PresentLocation),
		ownerJSON,
		artifact.Likes,
		likedByJSON,
		normalizeTime(artifact.DateAdded),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Artifact{}, fmt.Errorf("artifact id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = $1`,
		id,
	)
	return scanArtifact(row)
}

func (s *ArtifactStore) GetOwned(ctx context.Context, id, ownerUID string) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Artifact{}, fmt.Errorf("artifact id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = $1 AND added_by->>'uid' = $2`,
		id,
		strings.TrimSpace(ownerUID),
	)
	return scanArtifact(row)
}

func (s *ArtifactStore) List(ctx context.Context, filter repo.ArtifactFilter) ([]domain.Artifact, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	query, args, err := buildArtifactListQuery(filter)
	if err != nil {
		return nil, err
	}
	return s.queryArtifacts(ctx, query, args...)
}

func (s *ArtifactStore) TopLiked(ctx context.Context, limit int) ([]domain.Artifact, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be >= 1")
	}
	return s.queryArtifacts(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts ORDER BY likes DESC, date_added DESC LIMIT $1`,
		limit,
	)
}

func (s *ArtifactStore) Update(ctx context.Context, id string, patch repo.ArtifactPatch) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Artifact{}, fmt.Errorf("artifact id is required")
	}
	if patch.IsZero() {
		return s.Get(ctx, id)
	}
	query, args := buildArtifactUpdateQuery(id, patch)
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanArtifact(row)
}

func (s *ArtifactStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("artifact id is required")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE artifact_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if deleted == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// Like applies the increment and the liked_by append as one conditional
// statement: the WHERE clause refuses the mutation when the user already
// appears in liked_by, so likes and liked_by cannot diverge and two racing
// likes from the same user cannot both succeed.
func (s *ArtifactStore) Like(ctx context.Context, id, userID string) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Artifact{}, fmt.Errorf("artifact id is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Artifact{}, fmt.Errorf("user id is required")
	}
	entry, err := likedByEntry(userID)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("encode liked_by entry: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE artifacts
		 SET likes = likes + 1, liked_by = liked_by || $2::jsonb
		 WHERE artifact_id = $1 AND NOT (liked_by @> $2::jsonb)
		 RETURNING `+artifactColumns,
		id,
		entry,
	)
	artifact, err := scanArtifact(row)
	if err == nil {
		return artifact, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Artifact{}, err
	}

	// Nothing matched: the record is either gone or already carries the
	// user's like. A second lookup tells the two apart.
	if _, getErr := s.Get(ctx, id); getErr == nil {
		return domain.Artifact{}, repo.ErrAlreadyLiked
	} else if errors.Is(getErr, repo.ErrNotFound) {
		return domain.Artifact{}, repo.ErrNotFound
	} else {
		return domain.Artifact{}, getErr
	}
}

func (s *ArtifactStore) queryArtifacts(ctx context.Context, query string, args ...any) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := []domain.Artifact{}
	for rows.Next() {
		artifact, err := scanArtifactRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

func buildArtifactListQuery(filter repo.ArtifactFilter) (string, []any, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts`
	var conds []string
	var args []any

	if uid := strings.TrimSpace(filter.OwnerUID); uid != "" {
		args = append(args, uid)
		conds = append(conds, fmt.Sprintf("added_by->>'uid' = $%d", len(args)))
	}
	if uid := strings.TrimSpace(filter.LikedByUID); uid != "" {
		entry, err := likedByEntry(uid)
		if err != nil {
			return "", nil, fmt.Errorf("encode liked_by entry: %w", err)
		}
		args = append(args, entry)
		conds = append(conds, fmt.Sprintf("liked_by @> $%d::jsonb", len(args)))
	}
	if fragment := filter.NameFragment; fragment != "" {
		args = append(args, "%"+escapeLike(fragment)+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date_added DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func buildArtifactUpdateQuery(id string, patch repo.ArtifactPatch) (string, []any) {
	args := []any{id}
	var sets []string
	set := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, strings.TrimSpace(*value))
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	set("name", patch.Name)
	set("image", patch.Image)
	set("type", patch.Type)
	set("historical_context", patch.HistoricalContext)
	set("created_era", patch.CreatedEra)
	set("discovered_at", patch.DiscoveredAt)
	set("discovered_by", patch.DiscoveredBy)
	set("present_location", patch.PresentLocation)

	query := fmt.Sprintf(
		`UPDATE artifacts SET %s WHERE artifact_id = $1 RETURNING %s`,
		strings.Join(sets, ", "),
		artifactColumns,
	)
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row *sql.Row) (domain.Artifact, error) {
	artifact, err := scanArtifactRow(row)
	if err != nil {
		return domain.Artifact{}, handleNotFound(err)
	}
	return artifact, nil
}

func scanArtifactRow(row rowScanner) (domain.Artifact, error) {
	var artifact domain.Artifact
	var ownerJSON, likedByJSON []byte
	err := row.Scan(
		&artifact.ID,
		&artifact.Name,
		&artifact.Image,
		&artifact.Type,
		&artifact.HistoricalContext,
		&artifact.CreatedEra,
		&artifact.DiscoveredAt,
		&artifact.DiscoveredBy,
		&artifact.PresentLocation,
		&ownerJSON,
		&artifact.Likes,
		&likedByJSON,
		&artifact.DateAdded,
	)
	if err != nil {
		return domain.Artifact{}, err
	}
	owner, err := decodeOwner(ownerJSON)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("decode added_by: %w", err)
	}
	artifact.AddedBy = owner
	likedBy, err := decodeLikedBy(likedByJSON)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("decode liked_by: %w", err)
	}
	artifact.LikedBy = likedBy
	artifact.DateAdded = artifact.DateAdded.UTC()
	return artifact, nil
}
