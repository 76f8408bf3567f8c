package domain

import (
	"errors"
	"strings"
	"time"
)

// Owner is the user object recorded when an artifact is created. The
// frontend sends whatever profile fields it has; only the uid key is
// load-bearing.
type Owner map[string]any

// UID returns the owning user's identifier, or "" when absent.
func (o Owner) UID() string {
	if o == nil {
		return ""
	}
	v, ok := o["uid"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func (o Owner) Clone() Owner {
	if o == nil {
		return Owner{}
	}
	copy := make(Owner, len(o))
	for k, v := range o {
		copy[k] = v
	}
	return copy
}

// Artifact represents one user-submitted historic item.
type Artifact struct {
	ID                string
	Name              string
	Image             string
	Type              string
	HistoricalContext string
	// CreatedEra is the artifact's claimed creation era as supplied by the
	// submitter. Record metadata lives in DateAdded.
	CreatedEra      string
	DiscoveredAt    string
	DiscoveredBy    string
	PresentLocation string
	AddedBy         Owner
	Likes           int64
	LikedBy         []string
	DateAdded       time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("artifact name is required")
	}
	if strings.TrimSpace(a.Image) == "" {
		return errors.New("artifact image is required")
	}
	if strings.TrimSpace(a.Type) == "" {
		return errors.New("artifact type is required")
	}
	if a.AddedBy.UID() == "" {
		return errors.New("artifact owner uid is required")
	}
	if a.Likes < 0 {
		return errors.New("likes must be >= 0")
	}
	if a.Likes != int64(len(a.LikedBy)) {
		return errors.New("likes must equal the liked_by count")
	}
	return nil
}

// LikedByUser reports whether userID already appears in the liked_by list.
func (a Artifact) LikedByUser(userID string) bool {
	for _, uid := range a.LikedBy {
		if uid == userID {
			return true
		}
	}
	return false
}
