package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/medvault/internal/acl"
	"github.com/dmitrijs2005/medvault/internal/blobstore"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/kvstore"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

type env struct {
	svc   *Service
	blobs *blobstore.MemoryStore
	tm    *tokens.Manager
	acl   *acl.Service
	now   time.Time
	mu    sync.Mutex
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

func newEnv(t *testing.T, embed bool) *env {
	t.Helper()
	e := &env{now: t0, blobs: blobstore.NewMemoryStore()}
	kv := kvstore.NewMemoryStore()
	e.tm = tokens.NewManager(kv, tokens.WithClock(e.clock))
	e.acl = acl.NewService(kv, e.clock, logging.Nop(), nil)
	e.svc = NewService(e.blobs, e.tm, e.acl, Config{PublicURL: "https://vault.example/view", EmbedKeys: embed}, e.clock, nil, nil)
	return e
}

func (e *env) upload(t *testing.T, data string) *UploadResult {
	t.Helper()
	res, err := e.svc.Upload(context.Background(), "0xA", []byte(data), cryptox.Metadata{FileName: "a.txt", FileType: "text/plain"})
	require.NoError(t, err)
	return res
}

func (e *env) share(t *testing.T, up *UploadResult, st tokens.ShareType, opts tokens.CreateOptions) *Share {
	t.Helper()
	iv, err := tokens.IVFromInts(up.IV)
	require.NoError(t, err)
	sh, err := e.svc.Share(context.Background(), "0xA", ShareRequest{
		CID: up.CID, Key: up.Key, IV: iv, FileName: "a.txt", FileType: "text/plain",
		ShareType: st, Options: opts,
	})
	require.NoError(t, err)
	return sh
}

func TestUpload(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "0123456789")

	assert.NoError(t, blobstore.ValidateCID(up.CID))
	assert.Equal(t, cryptox.HashContent([]byte("0123456789")), up.Hash)
	assert.Len(t, up.IV, cryptox.NonceSize)
	assert.Equal(t, int64(10), up.Metadata.FileSize)
	assert.Equal(t, t0.UnixMilli(), up.Metadata.Timestamp)
	assert.Equal(t, "2026-10-15T08:00:00Z", up.Metadata.UploadDate)

	a, err := e.acl.Get(context.Background(), up.CID)
	require.NoError(t, err)
	assert.Equal(t, "0xA", a.Owner)

	ct, err := e.blobs.Get(context.Background(), up.CID)
	require.NoError(t, err)
	key, err := cryptox.ImportKey(up.Key)
	require.NoError(t, err)
	iv, _ := tokens.IVFromInts(up.IV)
	data, md, err := cryptox.Decrypt(ct, key, iv)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, "a.txt", md.FileName)

	_, err = e.svc.Upload(context.Background(), "", []byte("x"), cryptox.Metadata{})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestShareAndOpen_OneTime(t *testing.T) {
	e := newEnv(t, false)
	up := e.upload(t, "0123456789")
	sh := e.share(t, up, tokens.ShareOneTime, tokens.CreateOptions{})

	l, err := ParseLink(sh.Link)
	require.NoError(t, err)
	assert.Equal(t, sh.Token.TokenID, l.TokenID)
	assert.Empty(t, l.Key)
	assert.False(t, l.Direct())

	opened, err := e.svc.OpenLink(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(opened.Data))
	assert.Equal(t, "a.txt", opened.Metadata.FileName)
	assert.Equal(t, 1, opened.Token.ViewCount)

	_, err = e.svc.Open(context.Background(), sh.Token.TokenID)
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.ErrorIs(t, err, tokens.ErrTokenExhausted)
	assert.Contains(t, rej.Error(), "one-time")
}

func TestOpen_RejectionsAndMissing(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "data")
	sh := e.share(t, up, tokens.ShareDay, tokens.CreateOptions{})

	e.advance(25 * time.Hour)
	_, err := e.svc.Open(context.Background(), sh.Token.TokenID)
	assert.ErrorIs(t, err, tokens.ErrTokenExpired)

	_, err = e.svc.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, tokens.ErrTokenNotFound)

	stored, err := e.tm.Get(context.Background(), sh.Token.TokenID)
	require.NoError(t, err)
	assert.Zero(t, stored.ViewCount)
}

func TestOpen_MissingBlobDoesNotBurnView(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "data")
	iv, _ := tokens.IVFromInts(up.IV)

	// A token pointing at a blob this store never saw, as left behind when
	// storage loses an object after the share was made.
	other, err := blobstore.ComputeCID([]byte("elsewhere"))
	require.NoError(t, err)
	tok, err := e.tm.CreateToken(other, up.Key, iv, "a.txt", "text/plain", tokens.ShareOneTime, "0xA", tokens.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, e.tm.Store(context.Background(), tok))

	_, err = e.svc.Open(context.Background(), tok.TokenID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	res, err := e.tm.Validate(context.Background(), tok.TokenID, e.clock())
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestOpen_WrongKeyFailsClosed(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "data")
	iv, _ := tokens.IVFromInts(up.IV)

	k, err := cryptox.GenerateKey()
	require.NoError(t, err)
	sh, err := e.svc.Share(context.Background(), "0xA", ShareRequest{
		CID: up.CID, Key: cryptox.ExportKey(k), IV: iv, ShareType: tokens.SharePermanent,
	})
	require.NoError(t, err)

	opened, err := e.svc.Open(context.Background(), sh.Token.TokenID)
	assert.Nil(t, opened)
	assert.ErrorIs(t, err, cryptox.ErrTamperedData)
}

func TestShare_EmbedsKeysWhenConfigured(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "hello there")
	sh := e.share(t, up, tokens.SharePermanent, tokens.CreateOptions{})

	l, err := ParseLink(sh.Link)
	require.NoError(t, err)
	assert.Equal(t, up.CID, l.CID)
	assert.Equal(t, up.Key, l.Key)
	assert.Equal(t, up.IV, tokens.IVToInts(l.IV))

	l.TokenID = ""
	require.True(t, l.Direct())
	opened, err := e.svc.OpenLink(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(opened.Data))
	assert.Nil(t, opened.Token)

	_, err = e.svc.OpenLink(context.Background(), Link{})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestShare_OwnerOnly(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "x")
	ctx := context.Background()

	_, err := e.acl.GrantAccess(ctx, up.CID, "0xB", acl.AccessPermanent, "0xA", 0)
	require.NoError(t, err)

	iv, _ := tokens.IVFromInts(up.IV)
	_, err = e.svc.Share(ctx, "0xB", ShareRequest{CID: up.CID, Key: up.Key, IV: iv, ShareType: tokens.ShareDay})
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = e.svc.Share(ctx, "0xA", ShareRequest{CID: up.CID, Key: up.Key, IV: iv, ShareType: "weekly"})
	assert.ErrorIs(t, err, tokens.ErrInvalidShareType)
}

func TestFetch_ACLGated(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "x")
	ctx := context.Background()

	ct, err := e.svc.Fetch(ctx, up.CID, "0xa")
	require.NoError(t, err)
	assert.NotEmpty(t, ct)

	_, err = e.svc.Fetch(ctx, up.CID, "0xB")
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = e.acl.GrantAccess(ctx, up.CID, "0xB", acl.AccessTemporary, "0xA", 1)
	require.NoError(t, err)
	_, err = e.svc.Fetch(ctx, up.CID, "0xB")
	require.NoError(t, err)

	e.advance(2 * time.Hour)
	_, err = e.svc.Fetch(ctx, up.CID, "0xB")
	assert.ErrorIs(t, err, common.ErrorForbidden)
	assert.Contains(t, err.Error(), "expired")
}

func TestRevokeShare(t *testing.T) {
	e := newEnv(t, true)
	up := e.upload(t, "x")
	sh := e.share(t, up, tokens.SharePermanent, tokens.CreateOptions{})
	ctx := context.Background()

	assert.ErrorIs(t, e.svc.RevokeShare(ctx, "0xB", sh.Token.TokenID), common.ErrorForbidden)
	require.NoError(t, e.svc.RevokeShare(ctx, "0xa", sh.Token.TokenID))
	assert.ErrorIs(t, e.svc.RevokeShare(ctx, "0xA", "nope"), tokens.ErrTokenNotFound)

	_, err := e.svc.Open(ctx, sh.Token.TokenID)
	assert.ErrorIs(t, err, tokens.ErrTokenInactive)
}

func TestOpen_ConcurrentViewersRespectMaxViews(t *testing.T) {
	e := newEnv(t, false)
	up := e.upload(t, "shared scan")
	sh := e.share(t, up, tokens.ShareDay, tokens.CreateOptions{MaxViews: 3})

	var mu sync.Mutex
	ok, rejected := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Open(context.Background(), sh.Token.TokenID)
			mu.Lock()
			defer mu.Unlock()
			var rej *RejectedError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &rej):
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)
	assert.Equal(t, 17, rejected)
}

func TestFetch_MissingBlobLeavesNoACL(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	ghost, err := blobstore.ComputeCID([]byte("never uploaded"))
	require.NoError(t, err)

	_, err = e.svc.Fetch(ctx, ghost, "0xMallory")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = e.acl.Get(ctx, ghost)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestShare_MissingBlobMintsNothing(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	iv := make([]byte, 12)
	key, err := cryptox.GenerateKey()
	require.NoError(t, err)

	for _, c := range []string{"ghost-cid", "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq"} {
		sh, err := e.svc.Share(ctx, "0xMallory", ShareRequest{
			CID: c, Key: cryptox.ExportKey(key), IV: iv, ShareType: tokens.SharePermanent,
		})
		assert.Nil(t, sh)
		assert.ErrorIs(t, err, common.ErrorNotFound)

		_, err = e.acl.Get(ctx, c)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	}

	created, err := e.tm.ListByCreator(ctx, "0xMallory")
	require.NoError(t, err)
	assert.Empty(t, created)
}

// pinnedBlobs stores everything under one fixed CID so two uploads collide.
type pinnedBlobs struct {
	cid  string
	data []byte
}

func (p *pinnedBlobs) Put(_ context.Context, data []byte) (string, error) {
	p.data = append([]byte(nil), data...)
	return p.cid, nil
}

func (p *pinnedBlobs) Get(_ context.Context, c string) ([]byte, error) {
	if c != p.cid || p.data == nil {
		return nil, common.ErrorNotFound
	}
	return p.data, nil
}

func (p *pinnedBlobs) Has(_ context.Context, c string) (bool, error) {
	return c == p.cid && p.data != nil, nil
}

func TestUpload_ExistingOwnerIsAConflict(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	blobs := &pinnedBlobs{cid: "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq"}
	svc := NewService(blobs, e.tm, e.acl, Config{}, e.clock, nil, nil)

	_, err := e.acl.CreateACL(ctx, blobs.cid, "0xMallory")
	require.NoError(t, err)

	up, err := svc.Upload(ctx, "0xA", []byte("scan"), cryptox.Metadata{FileName: "a.txt"})
	assert.Nil(t, up)
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	a, err := e.acl.Get(ctx, blobs.cid)
	require.NoError(t, err)
	assert.Equal(t, "0xMallory", a.Owner)

	up, err = svc.Upload(ctx, "0xmallory", []byte("scan"), cryptox.Metadata{FileName: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, blobs.cid, up.CID)
}
