// Package blobstore holds envelope ciphertexts by content identifier. CIDs
// are IPFS CIDv1 (raw codec, sha2-256) computed over the ciphertext.
package blobstore

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Store puts and gets ciphertext blobs. A missing CID is reported as
// common.ErrorNotFound by Get and as false by Has.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Has(ctx context.Context, cid string) (bool, error)
}

// ComputeCID returns the CIDv1 string of data.
func ComputeCID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash blob: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ValidateCID rejects strings that are not a CID. Both v0 ("Qm...") and v1
// forms are accepted.
func ValidateCID(s string) error {
	if _, err := cid.Decode(s); err != nil {
		return fmt.Errorf("invalid cid %q: %w", s, err)
	}
	return nil
}

// Verify checks that data hashes to c, using the hash function c names.
func Verify(c string, data []byte) error {
	parsed, err := cid.Decode(c)
	if err != nil {
		return fmt.Errorf("invalid cid %q: %w", c, err)
	}
	got, err := parsed.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("hash blob: %w", err)
	}
	if !got.Equals(parsed) {
		return fmt.Errorf("blob does not match cid %s", c)
	}
	return nil
}
