package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/historica-labs/historica-go/internal/domain"
	"github.com/historica-labs/historica-go/internal/platform/objectstore"
	"github.com/historica-labs/historica-go/internal/repo"
	artifactsvc "github.com/historica-labs/historica-go/internal/service/artifacts"
)

// memArtifactRepo is an in-memory ArtifactRepository with the same
// semantics the Postgres store provides, so handler tests exercise the
// full request path without a database.
type memArtifactRepo struct {
	mu    sync.Mutex
	items map[string]domain.Artifact
}

func newMemArtifactRepo() *memArtifactRepo {
	return &memArtifactRepo{items: map[string]domain.Artifact{}}
}

func (m *memArtifactRepo) Create(ctx context.Context, artifact domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[artifact.ID] = artifact
	return nil
}

func (m *memArtifactRepo) Get(ctx context.Context, id string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.items[id]
	if !ok {
		return domain.Artifact{}, repo.ErrNotFound
	}
	return artifact, nil
}

func (m *memArtifactRepo) GetOwned(ctx context.Context, id, ownerUID string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.items[id]
	if !ok || artifact.AddedBy.UID() != ownerUID {
		return domain.Artifact{}, repo.ErrNotFound
	}
	return artifact, nil
}

func (m *memArtifactRepo) List(ctx context.Context, filter repo.ArtifactFilter) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Artifact
	for _, artifact := range m.items {
		if filter.OwnerUID != "" && artifact.AddedBy.UID() != filter.OwnerUID {
			continue
		}
		if filter.LikedByUID != "" && !artifact.LikedByUser(filter.LikedByUID) {
			continue
		}
		if filter.NameFragment != "" &&
			!strings.Contains(strings.ToLower(artifact.Name), strings.ToLower(filter.NameFragment)) {
			continue
		}
		out = append(out, artifact)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateAdded.After(out[j].DateAdded) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memArtifactRepo) TopLiked(ctx context.Context, limit int) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Artifact
	for _, artifact := range m.items {
		out = append(out, artifact)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Likes != out[j].Likes {
			return out[i].Likes > out[j].Likes
		}
		return out[i].DateAdded.After(out[j].DateAdded)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memArtifactRepo) Update(ctx context.Context, id string, patch repo.ArtifactPatch) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.items[id]
	if !ok {
		return domain.Artifact{}, repo.ErrNotFound
	}
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&artifact.Name, patch.Name)
	apply(&artifact.Image, patch.Image)
	apply(&artifact.Type, patch.Type)
	apply(&artifact.HistoricalContext, patch.HistoricalContext)
	apply(&artifact.CreatedEra, patch.CreatedEra)
	apply(&artifact.DiscoveredAt, patch.DiscoveredAt)
	apply(&artifact.DiscoveredBy, patch.DiscoveredBy)
	apply(&artifact.PresentLocation, patch.PresentLocation)
	m.items[id] = artifact
	return artifact, nil
}

func (m *memArtifactRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memArtifactRepo) Like(ctx context.Context, id, userID string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.items[id]
	if !ok {
		return domain.Artifact{}, repo.ErrNotFound
	}
	if artifact.LikedByUser(userID) {
		return domain.Artifact{}, repo.ErrAlreadyLiked
	}
	artifact.Likes++
	artifact.LikedBy = append(artifact.LikedBy, userID)
	m.items[id] = artifact
	return artifact, nil
}

func newTestHandler(t *testing.T) (http.Handler, *memArtifactRepo) {
	t.Helper()
	artifactRepo := newMemArtifactRepo()
	service, err := artifactsvc.NewService(artifactRepo, nil)
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	api := newArtifactAPI(logger, service, nil, objectstore.Config{})
	mux := http.NewServeMux()
	api.register(mux)
	return mux, artifactRepo
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "http://example.test"+target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validCreateBody(owner string) map[string]any {
	return map[string]any{
		"name":              "Rosetta Stone",
		"image":             "https://example.test/rosetta.jpg",
		"type":              "Tablet",
		"historicalContext": "Ptolemaic decree",
		"createdAt":         "196 BC",
		"discoveredAt":      "1799",
		"discoveredBy":      "Pierre Bouchard",
		"presentLocation":   "British Museum",
		"addedBy":           map[string]any{"uid": owner, "name": "Ada"},
	}
}

func createArtifact(t *testing.T, handler http.Handler, owner string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/artifacts", validCreateBody(owner))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Message    string `json:"message"`
		InsertedID string `json:"insertedId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.InsertedID == "" {
		t.Fatalf("expected insertedId in response: %s", rec.Body.String())
	}
	return resp.InsertedID
}

func TestCreateThenGetHasCleanCounters(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := validCreateBody("user-1")
	body["likes"] = 999
	body["likedBy"] = []string{"user-9"}
	rec := doJSON(t, handler, http.MethodPost, "/artifacts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		InsertedID string `json:"insertedId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/artifacts/"+created.InsertedID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if got.Likes != 0 || len(got.LikedBy) != 0 {
		t.Fatalf("likes=%d likedBy=%v, want zero values", got.Likes, got.LikedBy)
	}
	if got.DateAdded.IsZero() {
		t.Fatalf("expected dateAdded to be set")
	}
}

func TestCreateNamesMissingFields(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := validCreateBody("user-1")
	delete(body, "historicalContext")
	delete(body, "presentLocation")
	rec := doJSON(t, handler, http.MethodPost, "/artifacts", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	got := rec.Body.String()
	if !strings.Contains(got, "historicalContext") || !strings.Contains(got, "presentLocation") {
		t.Fatalf("expected both missing fields named, got %s", got)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/artifacts/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid artifact ID") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestGetMissingArtifactIs404(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/artifacts/7d444840-9dc0-11d1-b245-5ffdce74fad2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestSearchRouteOutranksIDRoute(t *testing.T) {
	handler, _ := newTestHandler(t)
	createArtifact(t, handler, "user-1")

	// "search" is not a valid id; reaching the id handler would be a 400.
	rec := doJSON(t, handler, http.MethodGet, "/artifacts/search?name=rosetta", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s, want 200", rec.Code, rec.Body.String())
	}
	var results []artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results=%d, want 1", len(results))
	}
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	handler, _ := newTestHandler(t)
	createArtifact(t, handler, "user-1") // name "Rosetta Stone"

	rec := doJSON(t, handler, http.MethodGet, "/artifacts/search?name=SETTA", nil)
	var results []artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results=%d, want 1 for case-insensitive fragment", len(results))
	}
}

func TestSearchWithoutNameReturnsEverything(t *testing.T) {
	handler, _ := newTestHandler(t)
	createArtifact(t, handler, "user-1")
	createArtifact(t, handler, "user-2")

	rec := doJSON(t, handler, http.MethodGet, "/artifacts/search", nil)
	var results []artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results=%d, want 2", len(results))
	}
}

func TestTopLikedCapsAtSixAndSortsDescending(t *testing.T) {
	handler, artifactRepo := newTestHandler(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i)
		likedBy := make([]string, i)
		for j := range likedBy {
			likedBy[j] = fmt.Sprintf("fan-%d", j)
		}
		artifactRepo.items[id] = domain.Artifact{
			ID:        id,
			Name:      fmt.Sprintf("Item %d", i),
			AddedBy:   domain.Owner{"uid": "user-1"},
			Likes:     int64(i),
			LikedBy:   likedBy,
			DateAdded: base.Add(time.Duration(i) * time.Hour),
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/artifacts/top-liked", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var results []artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("results=%d, want 6", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Likes > results[i-1].Likes {
			t.Fatalf("results not sorted by likes descending: %d before %d", results[i-1].Likes, results[i].Likes)
		}
	}
}

func TestUpdateOwnershipScenario(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createArtifact(t, handler, "U1")

	rec := doJSON(t, handler, http.MethodPut, "/artifacts/"+id, map[string]any{
		"userId": "U2",
		"name":   "Stolen",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("intruder update status=%d, want 404", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, "/artifacts/"+id, map[string]any{
		"userId": "U1",
		"name":   "X",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update status=%d body=%s", rec.Code, rec.Body.String())
	}
	var updated artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.Name != "X" {
		t.Fatalf("name=%q, want X", updated.Name)
	}
}

func TestUpdateCannotTouchProtectedFields(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createArtifact(t, handler, "U1")

	rec := doJSON(t, handler, http.MethodPut, "/artifacts/"+id, map[string]any{
		"userId":  "U1",
		"likes":   500,
		"likedBy": []string{"bot-1"},
		"addedBy": map[string]any{"uid": "U2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if got.Likes != 0 || len(got.LikedBy) != 0 {
		t.Fatalf("likes=%d likedBy=%v, want untouched", got.Likes, got.LikedBy)
	}
	if got.AddedBy["uid"] != "U1" {
		t.Fatalf("addedBy=%v, want owner U1", got.AddedBy)
	}
}

func TestDeleteOwnershipAndConfirmation(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createArtifact(t, handler, "U1")

	rec := doJSON(t, handler, http.MethodDelete, "/artifacts/"+id, map[string]any{"userId": "U2"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("intruder delete status=%d, want 404", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/artifacts/"+id, map[string]any{"userId": "U1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Artifact deleted successfully") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/artifacts/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d, want 404", rec.Code)
	}
}

func TestLikeOnceThenRejectDuplicate(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createArtifact(t, handler, "U1")

	rec := doJSON(t, handler, http.MethodPut, "/artifacts/"+id+"/like", map[string]any{"userId": "U2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("like status=%d body=%s", rec.Code, rec.Body.String())
	}
	var liked artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &liked); err != nil {
		t.Fatalf("decode liked: %v", err)
	}
	if liked.Likes != 1 || len(liked.LikedBy) != 1 || liked.LikedBy[0] != "U2" {
		t.Fatalf("likes=%d likedBy=%v, want one like by U2", liked.Likes, liked.LikedBy)
	}

	rec = doJSON(t, handler, http.MethodPut, "/artifacts/"+id+"/like", map[string]any{"userId": "U2"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate like status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already liked") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestLikeRequiresUserID(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createArtifact(t, handler, "U1")

	rec := doJSON(t, handler, http.MethodPut, "/artifacts/"+id+"/like", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "User ID is required") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestMyAndLikedArtifactRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)
	mine := createArtifact(t, handler, "U1")
	createArtifact(t, handler, "U2")
	doJSON(t, handler, http.MethodPut, "/artifacts/"+mine+"/like", map[string]any{"userId": "U3"})

	rec := doJSON(t, handler, http.MethodGet, "/my-artifacts/U1", nil)
	var myItems []artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &myItems); err != nil {
		t.Fatalf("decode my artifacts: %v", err)
	}
	if len(myItems) != 1 || myItems[0].ID != mine {
		t.Fatalf("my artifacts=%v, want only %s", myItems, mine)
	}

	rec = doJSON(t, handler, http.MethodGet, "/liked-artifacts/U3", nil)
	var likedItems []artifactResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &likedItems); err != nil {
		t.Fatalf("decode liked artifacts: %v", err)
	}
	if len(likedItems) != 1 || likedItems[0].ID != mine {
		t.Fatalf("liked artifacts=%v, want only %s", likedItems, mine)
	}
}

func TestUnknownRouteReturnsRouteNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Route not found") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestImageUploadUnavailableWithoutObjectStore(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createArtifact(t, handler, "U1")

	req := httptest.NewRequest(http.MethodPost, "http://example.test/artifacts/"+id+"/image", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}
