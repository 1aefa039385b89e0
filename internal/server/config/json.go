package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/medvault/internal/flagx"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"gopkg.in/yaml.v2"
)

// JsonConfig is the on-disk form of Config, read from JSON or, for .yaml
// and .yml files, YAML with the same keys. Durations accept "15m" or
// integer nanoseconds. Fields left out of the file keep their current value.
type JsonConfig struct {
	HTTPAddr                    string          `json:"http_addr" yaml:"http_addr"`
	StoreDriver                 string          `json:"store_driver" yaml:"store_driver"`
	DatabaseDSN                 string          `json:"database_dsn" yaml:"database_dsn"`
	StorePassphrase             string          `json:"store_passphrase" yaml:"store_passphrase"`
	BlobDriver                  string          `json:"blob_driver" yaml:"blob_driver"`
	S3RootUser                  string          `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                    string          `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	SecretKey                   string          `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	CleanupInterval             *timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	PublicURL                   string          `json:"public_url" yaml:"public_url"`
	EmbedKeysInLinks            *bool           `json:"embed_key_in_links" yaml:"embed_key_in_links"`
	LogFormat                   string          `json:"log_format" yaml:"log_format"`
}

// parseJson loads configuration values from the file named by the -c or
// -config flag. Without either flag nothing is loaded. An unreadable or
// malformed file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := decodeConfigFile(jsonConfigFile, file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.StoreDriver, c.StoreDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.StorePassphrase, c.StorePassphrase)
	setString(&config.BlobDriver, c.BlobDriver)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PublicURL, c.PublicURL)
	setString(&config.LogFormat, c.LogFormat)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.CleanupInterval != nil {
		config.CleanupInterval = c.CleanupInterval.Duration
	}
	if c.EmbedKeysInLinks != nil {
		config.EmbedKeysInLinks = *c.EmbedKeysInLinks
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func decodeConfigFile(path string, data []byte, c *JsonConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.UnmarshalStrict(data, c)
	}
	return json.Unmarshal(data, c)
}
