package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/medvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-S string   store driver: memory, sqlite, postgres, badger
//	-d string   database DSN, or badger directory
//	-P string   store passphrase (seals records at rest)
//	-B string   blob driver: memory, s3, minio
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-i int      cleanup interval, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-l string   public viewer URL used in share links
//	-k bool     embed cid, key and iv in share links
//	-f string   log format: slog or zap
//
// Only the flags above are picked out of os.Args by flagx.FilterArgs, so
// the JSON config flags can live on the same command line.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-S", "-d", "-P", "-B", "-s", "-t", "-i",
		"-u", "-p", "-b", "-g", "-e", "-l", "-k", "-f",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.StoreDriver, "S", config.StoreDriver, "store driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorePassphrase, "P", config.StorePassphrase, "store passphrase")
	fs.StringVar(&config.BlobDriver, "B", config.BlobDriver, "blob driver")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	cleanupInterval := fs.Int("i", int(config.CleanupInterval.Minutes()), "cleanup_interval (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.PublicURL, "l", config.PublicURL, "public viewer URL")
	fs.BoolVar(&config.EmbedKeysInLinks, "k", config.EmbedKeysInLinks, "embed key material in share links")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format: slog, zap or logrus")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.CleanupInterval = time.Duration(*cleanupInterval) * time.Minute
}
