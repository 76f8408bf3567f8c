package repo

import (
	"context"
	"errors"

	"github.com/historica-labs/historica-go/internal/domain"
)

var (
	// ErrNotFound reports that no artifact matched the query.
	ErrNotFound = errors.New("artifact not found")
	// ErrAlreadyLiked reports that the conditional like mutation matched the
	// artifact but the user was already present in liked_by.
	ErrAlreadyLiked = errors.New("artifact already liked by user")
)

// ArtifactFilter narrows list queries. Zero-value fields are ignored.
type ArtifactFilter struct {
	OwnerUID     string
	LikedByUID   string
	NameFragment string
	Limit        int
}

// ArtifactPatch carries the client-settable fields of a partial update.
// Nil pointers leave the stored value untouched.
type ArtifactPatch struct {
	Name              *string
	Image             *string
	Type              *string
	HistoricalContext *string
	CreatedEra        *string
	DiscoveredAt      *string
	DiscoveredBy      *string
	PresentLocation   *string
}

func (p ArtifactPatch) IsZero() bool {
	return p.Name == nil &&
		p.Image == nil &&
		p.Type == nil &&
		p.HistoricalContext == nil &&
		p.CreatedEra == nil &&
		p.DiscoveredAt == nil &&
		p.DiscoveredBy == nil &&
		p.PresentLocation == nil
}

// ArtifactRepository manages artifact records.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact domain.Artifact) error
	Get(ctx context.Context, id string) (domain.Artifact, error)
	// GetOwned returns the artifact only when added_by.uid matches ownerUID;
	// a mismatch is indistinguishable from a missing record.
	GetOwned(ctx context.Context, id, ownerUID string) (domain.Artifact, error)
	List(ctx context.Context, filter ArtifactFilter) ([]domain.Artifact, error)
	TopLiked(ctx context.Context, limit int) ([]domain.Artifact, error)
	Update(ctx context.Context, id string, patch ArtifactPatch) (domain.Artifact, error)
	Delete(ctx context.Context, id string) error
	// Like increments likes and appends userID to liked_by as a single
	// conditional mutation. ErrAlreadyLiked when the user was already
	// present, ErrNotFound when the artifact is gone.
	Like(ctx context.Context, id, userID string) (domain.Artifact, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}
