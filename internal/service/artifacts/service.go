package artifacts

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/historica-labs/historica-go/internal/domain"
	"github.com/historica-labs/historica-go/internal/repo"
)

// AuditContext captures request identity details for audit logging.
type AuditContext struct {
	RequestID string
	IP        net.IP
	UserAgent string
	Path      string
	Service   string
}

// CreateArtifactInput is the client-supplied portion of a new artifact.
// CreatedAt is the artifact's claimed creation era, not record metadata.
type CreateArtifactInput struct {
	Name              string
	Image             string
	Type              string
	HistoricalContext string
	CreatedAt         string
	DiscoveredAt      string
	DiscoveredBy      string
	PresentLocation   string
	AddedBy           domain.Owner
}

// protected fields are server-managed and stripped from every patch before
// it reaches the store, owner or not.
var protectedPatchFields = []string{"likes", "likedBy", "addedBy", "userId", "id", "dateAdded"}

// Service implements the artifact record operations on top of an injected
// repository. It holds no connection state of its own.
type Service struct {
	repo  repo.ArtifactRepository
	audit repo.AuditEventAppender
	now   func() time.Time
}

func NewService(artifactRepo repo.ArtifactRepository, audit repo.AuditEventAppender) (*Service, error) {
	if artifactRepo == nil {
		return nil, errors.New("artifact repository is required")
	}
	return &Service{
		repo:  artifactRepo,
		audit: audit,
		now:   time.Now,
	}, nil
}

// ListAll returns every artifact in the store.
func (s *Service) ListAll(ctx context.Context) ([]domain.Artifact, error) {
	return s.repo.List(ctx, repo.ArtifactFilter{})
}

// ListByOwner returns the artifacts submitted by userID.
func (s *Service) ListByOwner(ctx context.Context, userID string) ([]domain.Artifact, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newValidationError("User ID is required")
	}
	return s.repo.List(ctx, repo.ArtifactFilter{OwnerUID: userID})
}

// ListLikedBy returns the artifacts userID has liked.
func (s *Service) ListLikedBy(ctx context.Context, userID string) ([]domain.Artifact, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newValidationError("User ID is required")
	}
	return s.repo.List(ctx, repo.ArtifactFilter{LikedByUID: userID})
}

// Search returns artifacts whose name contains nameFragment as a
// case-insensitive substring. An empty fragment returns everything.
func (s *Service) Search(ctx context.Context, nameFragment string) ([]domain.Artifact, error) {
	return s.repo.List(ctx, repo.ArtifactFilter{NameFragment: nameFragment})
}

// DefaultTopLikedLimit is the number of artifacts the top-liked query
// returns when the caller does not ask for a specific count.
const DefaultTopLikedLimit = 6

// TopLiked returns up to limit artifacts ordered by likes descending.
func (s *Service) TopLiked(ctx context.Context, limit int) ([]domain.Artifact, error) {
	if limit < 1 {
		limit = DefaultTopLikedLimit
	}
	return s.repo.TopLiked(ctx, limit)
}

// Get returns the artifact with the given identifier.
func (s *Service) Get(ctx context.Context, id string) (domain.Artifact, error) {
	id, err := validArtifactID(id)
	if err != nil {
		return domain.Artifact{}, err
	}
	artifact, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Artifact{}, ErrNotFound
		}
		return domain.Artifact{}, err
	}
	return artifact, nil
}

// Create validates the input, forces the system-managed fields to their
// initial values, and inserts the new record.
func (s *Service) Create(ctx context.Context, input CreateArtifactInput, auditCtx AuditContext) (domain.Artifact, error) {
	var missing []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	require("name", input.Name)
	require("image", input.Image)
	require("type", input.Type)
	require("historicalContext", input.HistoricalContext)
	require("createdAt", input.CreatedAt)
	require("discoveredAt", input.DiscoveredAt)
	require("discoveredBy", input.DiscoveredBy)
	require("presentLocation", input.PresentLocation)
	if input.AddedBy.UID() == "" {
		missing = append(missing, "addedBy")
	}
	if len(missing) > 0 {
		return domain.Artifact{}, &ValidationError{MissingFields: missing}
	}

	now := s.now().UTC()
	artifact := domain.Artifact{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(input.Name),
		Image:             strings.TrimSpace(input.Image),
		Type:              strings.TrimSpace(input.Type),
		HistoricalContext: strings.TrimSpace(input.HistoricalContext),
		CreatedEra:        strings.TrimSpace(input.CreatedAt),
		DiscoveredAt:      strings.TrimSpace(input.DiscoveredAt),
		DiscoveredBy:      strings.TrimSpace(input.DiscoveredBy),
		PresentLocation:   strings.TrimSpace(input.PresentLocation),
		AddedBy:           input.AddedBy.Clone(),
		Likes:             0,
		LikedBy:           []string{},
		DateAdded:         now,
	}
	if err := s.repo.Create(ctx, artifact); err != nil {
		return domain.Artifact{}, err
	}

	s.appendAudit(ctx, domain.AuditEvent{
		OccurredAt:   now,
		Actor:        artifact.AddedBy.UID(),
		Action:       "artifact.create",
		ResourceType: "artifact",
		ResourceID:   artifact.ID,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload: map[string]any{
			"service":      auditCtx.Service,
			"artifact_id":  artifact.ID,
			"name":         artifact.Name,
			"type":         artifact.Type,
			"request_path": auditCtx.Path,
		},
	})
	return artifact, nil
}

// Update applies a partial update after an ownership check. Protected fields
// in the patch are stripped, never rejected, so an owner sending its whole
// artifact object back does not trip over the system-managed fields.
func (s *Service) Update(ctx context.Context, id, userID string, patch map[string]any, auditCtx AuditContext) (domain.Artifact, error) {
	id, err := validArtifactID(id)
	if err != nil {
		return domain.Artifact{}, err
	}

	owned, err := s.repo.GetOwned(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Artifact{}, ErrNotFoundOrUnauthorized
		}
		return domain.Artifact{}, err
	}

	repoPatch, err := buildPatch(patch)
	if err != nil {
		return domain.Artifact{}, err
	}
	if repoPatch.IsZero() {
		return owned, nil
	}

	updated, err := s.repo.Update(ctx, id, repoPatch)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Artifact{}, ErrUpdateFailed
		}
		return domain.Artifact{}, err
	}

	s.appendAudit(ctx, domain.AuditEvent{
		OccurredAt:   s.now().UTC(),
		Actor:        strings.TrimSpace(userID),
		Action:       "artifact.update",
		ResourceType: "artifact",
		ResourceID:   id,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload: map[string]any{
			"service":      auditCtx.Service,
			"artifact_id":  id,
			"fields":       patchFieldNames(repoPatch),
			"request_path": auditCtx.Path,
		},
	})
	return updated, nil
}

// Delete removes an artifact after an ownership check. Deletion is physical
// and immediate.
func (s *Service) Delete(ctx context.Context, id, userID string, auditCtx AuditContext) error {
	id, err := validArtifactID(id)
	if err != nil {
		return err
	}

	if _, err := s.repo.GetOwned(ctx, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFoundOrUnauthorized
		}
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrDeleteFailed
		}
		return err
	}

	s.appendAudit(ctx, domain.AuditEvent{
		OccurredAt:   s.now().UTC(),
		Actor:        strings.TrimSpace(userID),
		Action:       "artifact.delete",
		ResourceType: "artifact",
		ResourceID:   id,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload: map[string]any{
			"service":      auditCtx.Service,
			"artifact_id":  id,
			"request_path": auditCtx.Path,
		},
	})
	return nil
}

// Like registers userID's approval of an artifact. A like is one-way: once
// registered it cannot be repeated or withdrawn through this path.
func (s *Service) Like(ctx context.Context, id, userID string, auditCtx AuditContext) (domain.Artifact, error) {
	id, err := validArtifactID(id)
	if err != nil {
		return domain.Artifact{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Artifact{}, newValidationError("User ID is required")
	}

	// Friendly duplicate rejection. The store's conditional mutation below
	// is the hard guard against concurrent duplicates.
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Artifact{}, ErrNotFound
		}
		return domain.Artifact{}, err
	}
	if current.LikedByUser(userID) {
		return domain.Artifact{}, ErrAlreadyLiked
	}

	liked, err := s.repo.Like(ctx, id, userID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrAlreadyLiked):
			return domain.Artifact{}, ErrAlreadyLiked
		case errors.Is(err, repo.ErrNotFound):
			return domain.Artifact{}, ErrNotFound
		default:
			return domain.Artifact{}, err
		}
	}

	s.appendAudit(ctx, domain.AuditEvent{
		OccurredAt:   s.now().UTC(),
		Actor:        userID,
		Action:       "artifact.like",
		ResourceType: "artifact",
		ResourceID:   id,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload: map[string]any{
			"service":      auditCtx.Service,
			"artifact_id":  id,
			"likes":        liked.Likes,
			"request_path": auditCtx.Path,
		},
	})
	return liked, nil
}

// AttachImage points an artifact's image field at a newly uploaded object.
// Same ownership rules as Update.
func (s *Service) AttachImage(ctx context.Context, id, userID, imageURL string, auditCtx AuditContext) (domain.Artifact, error) {
	id, err := validArtifactID(id)
	if err != nil {
		return domain.Artifact{}, err
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return domain.Artifact{}, newValidationError("Image URL is required")
	}

	if _, err := s.repo.GetOwned(ctx, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Artifact{}, ErrNotFoundOrUnauthorized
		}
		return domain.Artifact{}, err
	}

	updated, err := s.repo.Update(ctx, id, repo.ArtifactPatch{Image: &imageURL})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Artifact{}, ErrUpdateFailed
		}
		return domain.Artifact{}, err
	}

	s.appendAudit(ctx, domain.AuditEvent{
		OccurredAt:   s.now().UTC(),
		Actor:        strings.TrimSpace(userID),
		Action:       "artifact.image_upload",
		ResourceType: "artifact",
		ResourceID:   id,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload: map[string]any{
			"service":      auditCtx.Service,
			"artifact_id":  id,
			"image":        imageURL,
			"request_path": auditCtx.Path,
		},
	})
	return updated, nil
}

// appendAudit records a mutation on the audit trail. Audit failures must not
// fail the mutation that already happened; callers log through the request
// middleware, so the error is dropped here.
func (s *Service) appendAudit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	_, _ = s.audit.Append(ctx, event)
}

func validArtifactID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return "", newValidationError("Invalid artifact ID")
	}
	return id, nil
}

// buildPatch maps the wire-keyed patch onto the updatable columns. The
// protected fields are dropped first; unknown keys are ignored.
func buildPatch(patch map[string]any) (repo.ArtifactPatch, error) {
	if len(patch) == 0 {
		return repo.ArtifactPatch{}, nil
	}
	cleaned := make(map[string]any, len(patch))
	for k, v := range patch {
		cleaned[k] = v
	}
	for _, field := range protectedPatchFields {
		delete(cleaned, field)
	}

	var out repo.ArtifactPatch
	assign := func(field string, dst **string) error {
		v, ok := cleaned[field]
		if !ok {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return newValidationError("Field " + field + " must be a string")
		}
		*dst = &s
		return nil
	}
	fields := map[string]**string{
		"name":              &out.Name,
		"image":             &out.Image,
		"type":              &out.Type,
		"historicalContext": &out.HistoricalContext,
		"createdAt":         &out.CreatedEra,
		"discoveredAt":      &out.DiscoveredAt,
		"discoveredBy":      &out.DiscoveredBy,
		"presentLocation":   &out.PresentLocation,
	}
	for field, dst := range fields {
		if err := assign(field, dst); err != nil {
			return repo.ArtifactPatch{}, err
		}
	}
	return out, nil
}

func patchFieldNames(patch repo.ArtifactPatch) []string {
	var fields []string
	add := func(name string, v *string) {
		if v != nil {
			fields = append(fields, name)
		}
	}
	add("name", patch.Name)
	add("image", patch.Image)
	add("type", patch.Type)
	add("historicalContext", patch.HistoricalContext)
	add("createdAt", patch.CreatedEra)
	add("discoveredAt", patch.DiscoveredAt)
	add("discoveredBy", patch.DiscoveredBy)
	add("presentLocation", patch.PresentLocation)
	return fields
}
