package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/historica-labs/historica-go/internal/domain"
	"github.com/historica-labs/historica-go/internal/platform/objectstore"
	"github.com/historica-labs/historica-go/internal/service/artifacts"
)

type artifactAPI struct {
	logger         *slog.Logger
	service        *artifacts.Service
	store          *minio.Client
	storeCfg       objectstore.Config
	uploadMaxBytes int64
}

func newArtifactAPI(logger *slog.Logger, service *artifacts.Service, store *minio.Client, storeCfg objectstore.Config) *artifactAPI {
	return &artifactAPI{
		logger:         logger,
		service:        service,
		store:          store,
		storeCfg:       storeCfg,
		uploadMaxBytes: 20 << 20, // 20 MiB
	}
}

// register wires the routes. The literal /artifacts/search and
// /artifacts/top-liked patterns outrank GET /artifacts/{id} by mux
// specificity, so the parameterized route never shadows them.
func (api *artifactAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /my-artifacts/{userId}", api.handleMyArtifacts)
	mux.HandleFunc("GET /liked-artifacts/{userId}", api.handleLikedArtifacts)

	mux.HandleFunc("GET /artifacts", api.handleListArtifacts)
	mux.HandleFunc("GET /artifacts/search", api.handleSearchArtifacts)
	mux.HandleFunc("GET /artifacts/top-liked", api.handleTopLiked)
	mux.HandleFunc("GET /artifacts/{id}", api.handleGetArtifact)
	mux.HandleFunc("POST /artifacts", api.handleCreateArtifact)
	mux.HandleFunc("PUT /artifacts/{id}", api.handleUpdateArtifact)
	mux.HandleFunc("DELETE /artifacts/{id}", api.handleDeleteArtifact)

	mux.HandleFunc("PUT /artifacts/{id}/like", api.handleLikeArtifact)
	mux.HandleFunc("POST /artifacts/{id}/image", api.handleUploadArtifactImage)

	mux.HandleFunc("/", api.handleRouteNotFound)
}

type artifactResponse struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Image             string         `json:"image"`
	Type              string         `json:"type"`
	HistoricalContext string         `json:"historicalContext"`
	CreatedAt         string         `json:"createdAt"`
	DiscoveredAt      string         `json:"discoveredAt"`
	DiscoveredBy      string         `json:"discoveredBy"`
	PresentLocation   string         `json:"presentLocation"`
	AddedBy           map[string]any `json:"addedBy"`
	Likes             int64          `json:"likes"`
	LikedBy           []string       `json:"likedBy"`
	DateAdded         time.Time      `json:"dateAdded"`
}

func toArtifactResponse(a domain.Artifact) artifactResponse {
	likedBy := a.LikedBy
	if likedBy == nil {
		likedBy = []string{}
	}
	addedBy := a.AddedBy
	if addedBy == nil {
		addedBy = domain.Owner{}
	}
	return artifactResponse{
		ID:                a.ID,
		Name:              a.Name,
		Image:             a.Image,
		Type:              a.Type,
		HistoricalContext: a.HistoricalContext,
		CreatedAt:         a.CreatedEra,
		DiscoveredAt:      a.DiscoveredAt,
		DiscoveredBy:      a.DiscoveredBy,
		PresentLocation:   a.PresentLocation,
		AddedBy:           addedBy,
		Likes:             a.Likes,
		LikedBy:           likedBy,
		DateAdded:         a.DateAdded,
	}
}

func toArtifactResponses(items []domain.Artifact) []artifactResponse {
	out := make([]artifactResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toArtifactResponse(item))
	}
	return out
}

type createArtifactRequest struct {
	Name              string         `json:"name"`
	Image             string         `json:"image"`
	Type              string         `json:"type"`
	HistoricalContext string         `json:"historicalContext"`
	CreatedAt         string         `json:"createdAt"`
	DiscoveredAt      string         `json:"discoveredAt"`
	DiscoveredBy      string         `json:"discoveredBy"`
	PresentLocation   string         `json:"presentLocation"`
	AddedBy           map[string]any `json:"addedBy"`
	// likes, likedBy, and dateAdded are accepted on the wire but never
	// read: the service forces their initial values.
	Likes     json.RawMessage `json:"likes"`
	LikedBy   json.RawMessage `json:"likedBy"`
	DateAdded json.RawMessage `json:"dateAdded"`
}

type userIDRequest struct {
	UserID string `json:"userId"`
}

func (api *artifactAPI) handleMyArtifacts(w http.ResponseWriter, r *http.Request) {
	items, err := api.service.ListByOwner(r.Context(), r.PathValue("userId"))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to fetch user artifacts")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponses(items))
}

func (api *artifactAPI) handleLikedArtifacts(w http.ResponseWriter, r *http.Request) {
	items, err := api.service.ListLikedBy(r.Context(), r.PathValue("userId"))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to fetch liked artifacts")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponses(items))
}

func (api *artifactAPI) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	items, err := api.service.ListAll(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to fetch artifacts")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponses(items))
}

func (api *artifactAPI) handleSearchArtifacts(w http.ResponseWriter, r *http.Request) {
	items, err := api.service.Search(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to search artifacts")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponses(items))
}

func (api *artifactAPI) handleTopLiked(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", artifacts.DefaultTopLikedLimit), 1, 50)
	items, err := api.service.TopLiked(r.Context(), limit)
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to fetch top artifacts")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponses(items))
}

func (api *artifactAPI) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := api.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to fetch artifact")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponse(artifact))
}

func (api *artifactAPI) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req createArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	created, err := api.service.Create(r.Context(), artifacts.CreateArtifactInput{
		Name:              req.Name,
		Image:             req.Image,
		Type:              req.Type,
		HistoricalContext: req.HistoricalContext,
		CreatedAt:         req.CreatedAt,
		DiscoveredAt:      req.DiscoveredAt,
		DiscoveredBy:      req.DiscoveredBy,
		PresentLocation:   req.PresentLocation,
		AddedBy:           domain.Owner(req.AddedBy),
	}, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to add artifact")
		return
	}

	api.writeJSON(w, http.StatusCreated, map[string]any{
		"message":    "Artifact added successfully",
		"insertedId": created.ID,
	})
}

func (api *artifactAPI) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	userID, _ := patch["userId"].(string)

	updated, err := api.service.Update(r.Context(), r.PathValue("id"), userID, patch, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to update artifact")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponse(updated))
}

func (api *artifactAPI) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := api.service.Delete(r.Context(), r.PathValue("id"), req.UserID, api.auditContext(r)); err != nil {
		api.writeServiceError(w, r, err, "Failed to delete artifact")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Artifact deleted successfully",
	})
}

func (api *artifactAPI) handleLikeArtifact(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	liked, err := api.service.Like(r.Context(), r.PathValue("id"), req.UserID, api.auditContext(r))
	if err != nil {
		api.writeServiceError(w, r, err, "Failed to like artifact")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponse(liked))
}

func (api *artifactAPI) handleUploadArtifactImage(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		api.writeError(w, http.StatusServiceUnavailable, "Image uploads are not configured")
		return
	}
	artifactID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}

	var userID, objectKey string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			api.writeError(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}
		switch part.FormName() {
		case "userId":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			_ = part.Close()
			if err != nil {
				api.writeError(w, http.StatusBadRequest, "Invalid userId field")
				return
			}
			userID = strings.TrimSpace(string(raw))
		case "file":
			if objectKey != "" {
				_ = part.Close()
				api.writeError(w, http.StatusBadRequest, "Multiple files not supported")
				return
			}
			filename := sanitizeFilename(part.FileName())
			contentType := strings.TrimSpace(part.Header.Get("Content-Type"))
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			objectKey = artifactID + "/" + filename

			uploadCtx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
			_, putErr := api.store.PutObject(
				uploadCtx,
				api.storeCfg.BucketImages,
				objectKey,
				part,
				-1,
				minio.PutObjectOptions{ContentType: contentType},
			)
			cancel()
			_ = part.Close()
			if putErr != nil {
				api.logger.Error("image upload failed", "error", putErr, "artifact_id", artifactID)
				api.writeError(w, http.StatusInternalServerError, "Failed to upload image")
				return
			}
		default:
			_ = part.Close()
		}
	}

	if objectKey == "" {
		api.writeError(w, http.StatusBadRequest, "Image file is required")
		return
	}

	updated, err := api.service.AttachImage(r.Context(), artifactID, userID, api.storeCfg.ObjectURL(objectKey), api.auditContext(r))
	if err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketImages, objectKey, minio.RemoveObjectOptions{})
		api.writeServiceError(w, r, err, "Failed to update artifact image")
		return
	}
	api.writeJSON(w, http.StatusOK, toArtifactResponse(updated))
}

func (api *artifactAPI) handleRouteNotFound(w http.ResponseWriter, r *http.Request) {
	api.writeError(w, http.StatusNotFound, "Route not found")
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognized is a store or connectivity failure: log the detail,
// answer with the route's generic message.
func (api *artifactAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if ve, ok := artifacts.AsValidation(err); ok {
		api.writeError(w, http.StatusBadRequest, ve.Error())
		return
	}
	switch {
	case errors.Is(err, artifacts.ErrAlreadyLiked):
		api.writeError(w, http.StatusBadRequest, "You have already liked this artifact")
	case errors.Is(err, artifacts.ErrNotFound):
		api.writeError(w, http.StatusNotFound, "Artifact not found")
	case errors.Is(err, artifacts.ErrNotFoundOrUnauthorized):
		api.writeError(w, http.StatusNotFound, "Artifact not found or unauthorized")
	case errors.Is(err, artifacts.ErrUpdateFailed):
		api.writeError(w, http.StatusNotFound, "Failed to update artifact")
	case errors.Is(err, artifacts.ErrDeleteFailed):
		api.writeError(w, http.StatusNotFound, "Failed to delete artifact")
	default:
		requestID := r.Header.Get("X-Request-Id")
		api.logger.Error("artifact operation failed", "error", err, "method", r.Method, "path", r.URL.Path, "request_id", requestID)
		api.writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (api *artifactAPI) auditContext(r *http.Request) artifacts.AuditContext {
	return artifacts.AuditContext{
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Service:   serviceName,
	}
}

func (api *artifactAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *artifactAPI) writeError(w http.ResponseWriter, status int, message string) {
	api.writeJSON(w, status, map[string]any{"error": message})
}

// decodeJSON reads a single JSON value. Unknown fields are tolerated: the
// service strips the system-managed ones rather than rejecting the request.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == "/" {
		return "image.bin"
	}
	return base
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
