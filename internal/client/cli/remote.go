package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/medvault/internal/client/api"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/filex"
	"github.com/dmitrijs2005/medvault/internal/tokens"
)

func (a *App) upload(ctx context.Context, args []string) error {
	fs := newFlagSet("upload")
	fileType := fs.String("type", "", "MIME type (guessed from the extension when empty)")
	recordType := fs.String("record", "", "record type")
	patientID := fs.String("patient", "", "patient id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: upload [flags] <file>", ErrUsage)
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if *fileType == "" {
		*fileType = mime.TypeByExtension(filepath.Ext(path))
	}

	res, err := a.api.Upload(ctx, data, cryptox.Metadata{
		FileName:   filepath.Base(path),
		FileType:   *fileType,
		RecordType: *recordType,
		PatientID:  *patientID,
	})
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *App) share(ctx context.Context, args []string) error {
	fs := newFlagSet("share")
	cid := fs.String("cid", "", "content id")
	key := fs.String("key", "", "base64 key")
	iv := fs.String("iv", "", "iv as a JSON array")
	name := fs.String("name", "", "file name shown to the viewer")
	fileType := fs.String("type", "", "MIME type")
	shareType := fs.String("share", "one-time", "one-time, 24-hours, custom or permanent")
	from := fs.String("from", "", "custom window start (RFC 3339)")
	until := fs.String("until", "", "custom window end (RFC 3339)")
	days := fs.Int("days", 0, "custom window length in days")
	maxViews := fs.Int("max-views", 0, "view budget, 0 for unlimited")
	recipient := fs.String("recipient", "", "wallet the share is addressed to")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *cid == "" || *key == "" || *iv == "" {
		return fmt.Errorf("%w: share -cid c -key k -iv '[..]' [flags]", ErrUsage)
	}

	rawIV, err := parseIV(*iv)
	if err != nil {
		return err
	}
	req := api.ShareRequest{
		CID:        *cid,
		Key:        *key,
		IV:         tokens.IVToInts(rawIV),
		FileName:   *name,
		FileType:   *fileType,
		ShareType:  *shareType,
		CustomDays: *days,
		MaxViews:   *maxViews,
		Recipient:  *recipient,
	}
	if req.ValidFrom, err = parseTime(*from); err != nil {
		return err
	}
	if req.ValidUntil, err = parseTime(*until); err != nil {
		return err
	}

	res, err := a.api.Share(ctx, req)
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return &t, nil
}

func (a *App) revoke(ctx context.Context, args []string) error {
	fs := newFlagSet("revoke")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: revoke <token-id>", ErrUsage)
	}
	if err := a.api.RevokeShare(ctx, fs.Arg(0)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.out, "revoked", fs.Arg(0))
	return err
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	if err := parse(fs, args); err != nil {
		return err
	}
	list, err := a.api.ListShares(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(list)
}

func (a *App) open(ctx context.Context, args []string) error {
	fs := newFlagSet("open")
	out := fs.String("out", "", "output file (default: the file's own name)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: open [-out file] <link>", ErrUsage)
	}

	f, err := a.api.OpenLink(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *out == "" {
		*out = filepath.Base(f.Name)
		if f.Name == "" || *out == "." || *out == string(filepath.Separator) {
			*out = "download.bin"
		}
	}
	if err := filex.WriteFile(*out, f.Data); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "wrote %s (%s, %d bytes)\n", *out, f.Type, len(f.Data))
	return err
}
