// Package cryptox implements the envelope codec used for every stored file:
// a length-prefixed metadata record and the raw file bytes sealed together
// with AES-256-GCM under a fresh key and nonce, plus the helpers needed to
// move keys around (base64 export/import) and to seal values at rest.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dmitrijs2005/medvault/internal/common"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce (IV) length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag appended to every ciphertext.
	TagSize = 16

	lengthPrefixSize = 4
)

var (
	ErrEncryption   = errors.New("encryption failed")
	ErrDecryption   = errors.New("decryption failed")
	ErrTamperedData = errors.New("ciphertext failed authentication or is malformed")
	ErrKeyFormat    = errors.New("invalid key format")

	// ErrInvalidMetadata marks metadata that would not survive the JSON
	// frame unchanged.
	ErrInvalidMetadata = errors.New("metadata is not valid UTF-8")
)

// Metadata describes the file sealed inside an envelope. It travels with,
// and is authenticated by, the ciphertext.
type Metadata struct {
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	FileSize   int64  `json:"fileSize"`
	RecordType string `json:"recordType"`
	PatientID  string `json:"patientId"`
	UploadDate string `json:"uploadDate"`
	Timestamp  int64  `json:"timestamp"`
}

// Envelope is the result of Encrypt: the ciphertext (tag included) and the
// key material needed to open it.
type Envelope struct {
	Ciphertext []byte
	Key        []byte
	IV         []byte
	Metadata   Metadata
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encodeMetadata produces the canonical JSON encoding of md. HTML escaping
// is disabled so the bytes match what a browser JSON.stringify would emit.
func encodeMetadata(md Metadata) ([]byte, error) {
	for name, v := range map[string]string{
		"fileName":   md.FileName,
		"fileType":   md.FileType,
		"recordType": md.RecordType,
		"patientId":  md.PatientID,
		"uploadDate": md.UploadDate,
	} {
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMetadata, name)
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(md); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Encrypt seals data together with md under a freshly generated 256-bit key
// and 96-bit IV. The plaintext frame is
//
//	[4-byte little-endian len(metadata)][metadata JSON][data]
//
// and the returned ciphertext is len(frame)+TagSize bytes long.
func Encrypt(data []byte, md Metadata) (*Envelope, error) {
	meta, err := encodeMetadata(md)
	if err != nil {
		return nil, fmt.Errorf("%w: encode metadata: %w", ErrEncryption, err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return nil, fmt.Errorf("%w: generate iv: %v", ErrEncryption, err)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	frame := make([]byte, lengthPrefixSize+len(meta)+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(meta)))
	copy(frame[lengthPrefixSize:], meta)
	copy(frame[lengthPrefixSize+len(meta):], data)

	ciphertext := aesgcm.Seal(nil, iv, frame, nil)
	common.WipeByteArray(frame)

	return &Envelope{Ciphertext: ciphertext, Key: key, IV: iv, Metadata: md}, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any authentication failure
// or malformed frame yields ErrTamperedData and no file bytes.
func Decrypt(ciphertext, key, iv []byte) ([]byte, *Metadata, error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrKeyFormat, KeySize, len(key))
	}
	if len(iv) != NonceSize {
		return nil, nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryption, NonceSize, len(iv))
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTamperedData, err)
	}

	if len(plaintext) < lengthPrefixSize {
		common.WipeByteArray(plaintext)
		return nil, nil, fmt.Errorf("%w: frame shorter than length prefix", ErrTamperedData)
	}

	metaLen := binary.LittleEndian.Uint32(plaintext)
	if uint64(metaLen) > uint64(len(plaintext)-lengthPrefixSize) {
		common.WipeByteArray(plaintext)
		return nil, nil, fmt.Errorf("%w: metadata length %d exceeds payload", ErrTamperedData, metaLen)
	}

	end := lengthPrefixSize + int(metaLen)
	raw := plaintext[lengthPrefixSize:end]
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		common.WipeByteArray(plaintext)
		return nil, nil, fmt.Errorf("%w: metadata is not a record", ErrTamperedData)
	}

	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		common.WipeByteArray(plaintext)
		return nil, nil, fmt.Errorf("%w: parse metadata: %v", ErrTamperedData, err)
	}

	data := make([]byte, len(plaintext)-end)
	copy(data, plaintext[end:])
	common.WipeByteArray(plaintext)

	return data, &md, nil
}
