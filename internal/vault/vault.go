// Package vault ties the codec, the blob store, share tokens and ACLs into
// the upload, share and view flows.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medvault/internal/acl"
	"github.com/dmitrijs2005/medvault/internal/blobstore"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/metrics"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/dmitrijs2005/medvault/internal/tokens"
)

// RejectedError carries a failed token validation to the caller. Its
// message is the human-readable reason.
type RejectedError struct {
	Result tokens.Result
}

func (e *RejectedError) Error() string { return e.Result.Reason }

func (e *RejectedError) Unwrap() error { return e.Result.Err() }

type Config struct {
	// PublicURL is the viewer page share links point at.
	PublicURL string
	// EmbedKeys puts cid, key and iv into share links next to the token id.
	EmbedKeys bool
}

type Service struct {
	blobs   blobstore.Store
	tokens  *tokens.Manager
	acl     *acl.Service
	cfg     Config
	clock   timex.Clock
	log     logging.Logger
	metrics *metrics.Metrics
}

func NewService(blobs blobstore.Store, tm *tokens.Manager, as *acl.Service, cfg Config,
	clock timex.Clock, log logging.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = timex.SystemClock
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		blobs:   blobs,
		tokens:  tm,
		acl:     as,
		cfg:     cfg,
		clock:   clock,
		log:     log.With("module", "vault"),
		metrics: m,
	}
}

type UploadResult struct {
	CID      string           `json:"cid"`
	Key      string           `json:"key"`
	IV       []int            `json:"iv"`
	Hash     string           `json:"hash"`
	Size     int              `json:"size"`
	Metadata cryptox.Metadata `json:"metadata"`
}

// Upload encrypts data, stores the envelope and records owner in the new
// file's ACL. The returned key is the only copy the service hands out.
func (s *Service) Upload(ctx context.Context, owner string, data []byte, md cryptox.Metadata) (*UploadResult, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", common.ErrorValidation)
	}
	now := s.clock()
	if md.FileSize == 0 {
		md.FileSize = int64(len(data))
	}
	if md.Timestamp == 0 {
		md.Timestamp = now.UnixMilli()
	}
	if md.UploadDate == "" {
		md.UploadDate = now.UTC().Format(time.RFC3339)
	}

	env, err := cryptox.Encrypt(data, md)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(env.Key)

	cid, err := s.blobs.Put(ctx, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("store envelope: %w", err)
	}
	if err := s.claim(ctx, cid, owner); err != nil {
		return nil, err
	}

	s.metrics.Uploaded()
	s.log.Info(ctx, "file uploaded", "cid", cid, "owner", owner, "size", len(env.Ciphertext))
	return &UploadResult{
		CID:      cid,
		Key:      cryptox.ExportKey(env.Key),
		IV:       tokens.IVToInts(env.IV),
		Hash:     cryptox.HashContent(data),
		Size:     len(env.Ciphertext),
		Metadata: env.Metadata,
	}, nil
}

// claim makes owner the owner of a freshly stored blob. An ACL that already
// names someone else is a conflict; the caller is not told it owns the file.
func (s *Service) claim(ctx context.Context, cid, owner string) error {
	_, err := s.acl.CreateACL(ctx, cid, owner)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorAlreadyExists) {
		return fmt.Errorf("create acl: %w", err)
	}
	existing, err := s.acl.Get(ctx, cid)
	if err != nil {
		return fmt.Errorf("load acl: %w", err)
	}
	if !existing.IsOwner(owner) {
		s.log.Warn(ctx, "upload collides with an owned blob", "cid", cid)
		return fmt.Errorf("%w: %s is owned by another wallet", common.ErrorAlreadyExists, cid)
	}
	return nil
}

// requireBlob returns common.ErrorNotFound unless the blob store holds cid.
// It runs before any ACL lookup so that the legacy backfill only ever
// applies to files that exist.
func (s *Service) requireBlob(ctx context.Context, cid string) error {
	ok, err := s.blobs.Has(ctx, cid)
	if err != nil {
		return fmt.Errorf("check blob %s: %w", cid, err)
	}
	if !ok {
		return fmt.Errorf("%w: file %s", common.ErrorNotFound, cid)
	}
	return nil
}

// Fetch returns the stored envelope of cid if wallet passes the ACL.
func (s *Service) Fetch(ctx context.Context, cid, wallet string) ([]byte, error) {
	if err := s.requireBlob(ctx, cid); err != nil {
		return nil, err
	}
	d, err := s.acl.VerifyAccess(ctx, cid, wallet, s.clock())
	if err != nil {
		return nil, err
	}
	if !d.HasAccess {
		return nil, fmt.Errorf("%w: %s", common.ErrorForbidden, d.Reason)
	}
	return s.blobs.Get(ctx, cid)
}

// VerifyAccess reports whether wallet may read cid. Unknown files are
// common.ErrorNotFound and never get an ACL.
func (s *Service) VerifyAccess(ctx context.Context, cid, wallet string) (acl.Decision, error) {
	if err := s.requireBlob(ctx, cid); err != nil {
		return acl.Decision{}, err
	}
	return s.acl.VerifyAccess(ctx, cid, wallet, s.clock())
}

type ShareRequest struct {
	CID       string
	Key       string
	IV        []byte
	FileName  string
	FileType  string
	ShareType tokens.ShareType
	Options   tokens.CreateOptions
}

type Share struct {
	Token *tokens.AccessToken
	Link  string
}

// Share mints and stores a token for a file creator owns, and builds the
// link to hand out.
func (s *Service) Share(ctx context.Context, creator string, req ShareRequest) (*Share, error) {
	if err := s.requireBlob(ctx, req.CID); err != nil {
		return nil, err
	}
	d, err := s.acl.VerifyAccess(ctx, req.CID, creator, s.clock())
	if err != nil {
		return nil, err
	}
	if d.AccessType != acl.AccessOwner {
		return nil, fmt.Errorf("%w: only the owner can share %s", common.ErrorForbidden, req.CID)
	}

	t, err := s.tokens.CreateToken(req.CID, req.Key, req.IV, req.FileName, req.FileType, req.ShareType, creator, req.Options)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Store(ctx, t); err != nil {
		return nil, err
	}

	l := Link{TokenID: t.TokenID, FileName: t.FileName, FileType: t.FileType}
	if s.cfg.EmbedKeys {
		l.CID, l.Key, l.IV = t.CID, t.EncryptionKey, t.IV
	}
	link, err := BuildLink(s.cfg.PublicURL, l)
	if err != nil {
		return nil, err
	}
	return &Share{Token: t, Link: link}, nil
}

// RevokeShare deactivates a token; only its creator may do so.
func (s *Service) RevokeShare(ctx context.Context, requester, tokenID string) error {
	t, err := s.tokens.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if !acl.SameWallet(t.CreatedBy, requester) {
		return fmt.Errorf("%w: not the creator of this share", common.ErrorForbidden)
	}
	return s.tokens.Revoke(ctx, tokenID)
}

type Opened struct {
	Data     []byte
	Metadata *cryptox.Metadata
	Token    *tokens.AccessToken
}

// Open is the view flow for a token link: validate, fetch the envelope,
// record the view atomically, decrypt. A rejected token comes back as a
// *RejectedError.
func (s *Service) Open(ctx context.Context, tokenID string) (*Opened, error) {
	now := s.clock()
	res, err := s.tokens.Validate(ctx, tokenID, now)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &RejectedError{Result: res}
	}

	ciphertext, err := s.blobs.Get(ctx, res.Token.CID)
	if err != nil {
		return nil, fmt.Errorf("fetch envelope: %w", err)
	}

	res, err = s.tokens.Consume(ctx, tokenID, now)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &RejectedError{Result: res}
	}

	data, md, err := s.decrypt(ciphertext, res.Token.EncryptionKey, res.Token.IV)
	if err != nil {
		s.log.Error(ctx, "envelope failed to open", "token_id", tokenID, "cid", res.Token.CID, "error", err)
		return nil, err
	}
	return &Opened{Data: data, Metadata: md, Token: res.Token}, nil
}

// Redeem spends one view of a token without touching the blob store and
// hands back the token with its key material, for viewers that fetch and
// decrypt the envelope themselves.
func (s *Service) Redeem(ctx context.Context, tokenID string) (*tokens.AccessToken, error) {
	res, err := s.tokens.Consume(ctx, tokenID, s.clock())
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &RejectedError{Result: res}
	}
	return res.Token, nil
}

// OpenDirect opens a link that carries cid, key and iv itself.
func (s *Service) OpenDirect(ctx context.Context, cid, key string, iv []byte) (*Opened, error) {
	ciphertext, err := s.blobs.Get(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("fetch envelope: %w", err)
	}
	data, md, err := s.decrypt(ciphertext, key, iv)
	if err != nil {
		return nil, err
	}
	return &Opened{Data: data, Metadata: md}, nil
}

// OpenLink follows whichever path the link supports.
func (s *Service) OpenLink(ctx context.Context, l Link) (*Opened, error) {
	if l.TokenID != "" {
		return s.Open(ctx, l.TokenID)
	}
	if l.Direct() {
		return s.OpenDirect(ctx, l.CID, l.Key, l.IV)
	}
	return nil, fmt.Errorf("%w: link cannot be opened", common.ErrorValidation)
}

func (s *Service) decrypt(ciphertext []byte, key string, iv []byte) ([]byte, *cryptox.Metadata, error) {
	raw, err := cryptox.ImportKey(key)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(raw)
	return cryptox.Decrypt(ciphertext, raw, iv)
}
