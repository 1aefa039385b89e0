package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/medvault/internal/blobstore"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/filex"
	"github.com/dmitrijs2005/medvault/internal/server/auth"
	"github.com/dmitrijs2005/medvault/internal/tokens"
	"github.com/dmitrijs2005/medvault/internal/vault"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseIV reads an IV written as a JSON array of byte values.
func parseIV(s string) ([]byte, error) {
	var ints []int
	if err := json.Unmarshal([]byte(s), &ints); err != nil {
		return nil, fmt.Errorf("%w: iv must be a JSON array: %v", ErrUsage, err)
	}
	return tokens.IVFromInts(ints)
}

// keyOrPrompt returns flagKey, or asks for the key on the terminal.
func (a *App) keyOrPrompt(flagKey string) ([]byte, error) {
	if flagKey != "" {
		return cryptox.ImportKey(flagKey)
	}
	s, err := GetSecret("Encryption key", a.out)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(s)
	return cryptox.ImportKey(string(s))
}

func (a *App) keygen(_ context.Context, args []string) error {
	fs := newFlagSet("keygen")
	if err := parse(fs, args); err != nil {
		return err
	}
	key, err := cryptox.GenerateKey()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)
	_, err = fmt.Fprintln(a.out, cryptox.ExportKey(key))
	return err
}

func (a *App) hash(_ context.Context, args []string) error {
	fs := newFlagSet("hash")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: hash <file>", ErrUsage)
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	cid, err := blobstore.ComputeCID(data)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]string{"cid": cid, "sha256": cryptox.HashContent(data)})
}

type encryptResult struct {
	CID    string `json:"cid"`
	Key    string `json:"key"`
	IV     []int  `json:"iv"`
	Hash   string `json:"hash"`
	Output string `json:"output"`
}

func (a *App) encrypt(_ context.Context, args []string) error {
	fs := newFlagSet("encrypt")
	out := fs.String("out", "", "ciphertext output file (default <in>.enc)")
	fileType := fs.String("type", "application/octet-stream", "MIME type")
	recordType := fs.String("record", "", "record type")
	patientID := fs.String("patient", "", "patient id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: encrypt [flags] <file>", ErrUsage)
	}

	in := fs.Arg(0)
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	env, err := cryptox.Encrypt(data, cryptox.Metadata{
		FileName:   filepath.Base(in),
		FileType:   *fileType,
		FileSize:   int64(len(data)),
		RecordType: *recordType,
		PatientID:  *patientID,
		UploadDate: now.Format(time.RFC3339),
		Timestamp:  now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	defer common.WipeByteArray(env.Key)

	if *out == "" {
		*out = in + ".enc"
	}
	if err := filex.WriteFile(*out, env.Ciphertext); err != nil {
		return err
	}
	cid, err := blobstore.ComputeCID(env.Ciphertext)
	if err != nil {
		return err
	}
	return a.printJSON(encryptResult{
		CID:    cid,
		Key:    cryptox.ExportKey(env.Key),
		IV:     tokens.IVToInts(env.IV),
		Hash:   cryptox.HashContent(env.Ciphertext),
		Output: *out,
	})
}

func (a *App) decrypt(_ context.Context, args []string) error {
	fs := newFlagSet("decrypt")
	out := fs.String("out", "", "plaintext output file (default: the name sealed in the envelope)")
	key := fs.String("key", "", "base64 key (prompted when empty)")
	iv := fs.String("iv", "", "iv as a JSON array")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *iv == "" {
		return fmt.Errorf("%w: decrypt -iv '[..]' [-key k] [-out file] <envelope>", ErrUsage)
	}

	rawIV, err := parseIV(*iv)
	if err != nil {
		return err
	}
	rawKey, err := a.keyOrPrompt(*key)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(rawKey)

	ciphertext, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	data, md, err := cryptox.Decrypt(ciphertext, rawKey, rawIV)
	if err != nil {
		return err
	}

	if *out == "" {
		*out = filepath.Base(md.FileName)
		if *out == "." || *out == string(filepath.Separator) || *out == "" {
			*out = filepath.Base(fs.Arg(0)) + ".out"
		}
	}
	if err := filex.WriteFile(*out, data); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "wrote %s (%s, %d bytes)\n", *out, md.FileType, len(data))
	return err
}

func (a *App) link(_ context.Context, args []string) error {
	fs := newFlagSet("link")
	base := fs.String("base", "http://localhost:8080/view", "viewer URL")
	tokenID := fs.String("token", "", "token id")
	cid := fs.String("cid", "", "content id")
	key := fs.String("key", "", "base64 key")
	iv := fs.String("iv", "", "iv as a JSON array")
	name := fs.String("name", "", "file name")
	fileType := fs.String("type", "", "MIME type")
	if err := parse(fs, args); err != nil {
		return err
	}

	l := vault.Link{TokenID: *tokenID, CID: *cid, Key: *key, FileName: *name, FileType: *fileType}
	if *iv != "" {
		rawIV, err := parseIV(*iv)
		if err != nil {
			return err
		}
		l.IV = rawIV
	}
	if l.TokenID == "" && !l.Direct() {
		return fmt.Errorf("%w: link needs -token or all of -cid, -key and -iv", ErrUsage)
	}
	s, err := vault.BuildLink(*base, l)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, s)
	return err
}

func (a *App) token(_ context.Context, args []string) error {
	fs := newFlagSet("token")
	wallet := fs.String("wallet", "", "wallet address")
	ttl := fs.Duration("ttl", time.Hour, "validity")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *wallet == "" {
		return fmt.Errorf("%w: token -wallet <address> [-ttl 1h]", ErrUsage)
	}

	secret, err := GetSecret("Server secret key", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	jwt, err := auth.GenerateToken(*wallet, secret, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, jwt)
	return err
}
