// Package config handles configuration for the vault server, including
// defaults, a JSON or YAML file overlay, and command-line flags.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/blobstore"
)

// Config holds runtime settings for the vault server.
//
// Fields:
//   - HTTPAddr: bind address for the HTTP API.
//   - StoreDriver: token/ACL store (memory, sqlite, postgres, badger).
//   - DatabaseDSN: DSN for sqlite/postgres, data directory for badger.
//   - StorePassphrase: when set, stored records are sealed at rest.
//   - BlobDriver / S3*: where ciphertexts go (memory, s3, minio).
//   - SecretKey / AccessTokenValidityDuration: JWT signing for wallet sessions.
//   - CleanupInterval: how often expired tokens and grants are swept.
//   - PublicURL / EmbedKeysInLinks: shape of generated share links.
//   - LogFormat: "slog" (JSON), "zap" or "logrus".
type Config struct {
	HTTPAddr                    string
	StoreDriver                 string
	DatabaseDSN                 string
	StorePassphrase             string
	BlobDriver                  string
	S3RootUser                  string
	S3RootPassword              string
	S3Bucket                    string
	S3Region                    string
	S3BaseEndpoint              string
	SecretKey                   string
	AccessTokenValidityDuration time.Duration
	CleanupInterval             time.Duration
	PublicURL                   string
	EmbedKeysInLinks            bool
	LogFormat                   string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.StoreDriver = "memory"
	c.DatabaseDSN = ""
	c.BlobDriver = "memory"
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 60 * time.Minute
	c.CleanupInterval = 10 * time.Minute
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.PublicURL = "http://localhost:8080/view"
	c.EmbedKeysInLinks = true
	c.LogFormat = "slog"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON or YAML file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// BlobConfig translates the S3 settings for blobstore.Open. MinIO takes a
// bare host:port, so the scheme of S3BaseEndpoint decides Secure.
func (c *Config) BlobConfig() blobstore.Config {
	bc := blobstore.Config{
		Driver: c.BlobDriver,
		S3: blobstore.S3Config{
			Endpoint:  c.S3BaseEndpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3RootUser,
			SecretKey: c.S3RootPassword,
		},
		Minio: blobstore.MinioConfig{
			Endpoint:  strings.TrimSuffix(c.S3BaseEndpoint, "/"),
			Bucket:    c.S3Bucket,
			AccessKey: c.S3RootUser,
			SecretKey: c.S3RootPassword,
		},
	}
	if u, err := url.Parse(c.S3BaseEndpoint); err == nil && u.Host != "" {
		bc.Minio.Endpoint = u.Host
		bc.Minio.Secure = u.Scheme == "https"
	}
	return bc
}
