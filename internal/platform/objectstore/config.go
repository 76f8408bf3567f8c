package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/historica-labs/historica-go/internal/platform/env"
)

type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	BucketImages string
	// PublicBaseURL is the externally reachable prefix for stored objects,
	// for deployments that front the bucket with a CDN or reverse proxy.
	// Empty means the endpoint itself is reachable by clients.
	PublicBaseURL string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("HISTORICA_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("HISTORICA_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("HISTORICA_MINIO_ACCESS_KEY", "historica"),
		SecretKey:     env.String("HISTORICA_MINIO_SECRET_KEY", "historicaminio"),
		Region:        env.String("HISTORICA_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketImages:  env.String("HISTORICA_MINIO_BUCKET_IMAGES", "artifact-images"),
		PublicBaseURL: env.String("HISTORICA_MINIO_PUBLIC_URL", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketImages) == "" {
		return errors.New("images bucket is required")
	}
	return nil
}

// ObjectURL returns the client-facing URL of a stored object.
func (c Config) ObjectURL(key string) string {
	if base := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/"); base != "" {
		return base + "/" + c.BucketImages + "/" + key
	}
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.Endpoint, c.BucketImages, key)
}
