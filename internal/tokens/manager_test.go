package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/kvstore"
	"github.com/dmitrijs2005/medvault/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	m     *Manager
	store kvstore.Store
	clock *testClock
	key   string
	iv    []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := cryptox.GenerateKey()
	require.NoError(t, err)
	clk := &testClock{now: t0}
	st := kvstore.NewMemoryStore()
	return &fixture{
		m:     NewManager(st, WithClock(clk.Now), WithMetrics(metrics.New())),
		store: st,
		clock: clk,
		key:   cryptox.ExportKey(key),
		iv:    make([]byte, cryptox.NonceSize),
	}
}

func (f *fixture) issue(t *testing.T, st ShareType, opts CreateOptions) *AccessToken {
	t.Helper()
	tok, err := f.m.CreateToken("QmFile123456", f.key, f.iv, "scan.pdf", "application/pdf", st, "0xA", opts)
	require.NoError(t, err)
	require.NoError(t, f.m.Store(context.Background(), tok))
	return tok
}

func (f *fixture) validate(t *testing.T, id string, now time.Time) Result {
	t.Helper()
	res, err := f.m.Validate(context.Background(), id, now)
	require.NoError(t, err)
	return res
}

func TestCreateToken_Policies(t *testing.T) {
	f := newFixture(t)

	one := f.issue(t, ShareOneTime, CreateOptions{MaxViews: 9})
	assert.Equal(t, OneTimePolicy{ExpiresAt: t0.Add(7 * 24 * time.Hour)}, one.Policy)
	assert.Equal(t, 1, one.MaxViews)
	assert.True(t, one.IsActive)
	assert.Zero(t, one.ViewCount)
	assert.Equal(t, t0, one.CreatedAt)
	assert.Equal(t, "0xA", one.CreatedBy)

	day := f.issue(t, ShareDay, CreateOptions{})
	assert.Equal(t, DayPolicy{ExpiresAt: t0.Add(24 * time.Hour)}, day.Policy)
	assert.Zero(t, day.MaxViews)

	perm := f.issue(t, SharePermanent, CreateOptions{})
	assert.Equal(t, PermanentPolicy{}, perm.Policy)
	assert.Zero(t, perm.MaxViews)

	from, until := t0.Add(time.Hour), t0.Add(3*time.Hour)
	ranged := f.issue(t, ShareCustom, CreateOptions{ValidFrom: from, ValidUntil: until, MaxViews: 3})
	assert.Equal(t, RangePolicy{ValidFrom: from, ValidUntil: until}, ranged.Policy)
	assert.Equal(t, 3, ranged.MaxViews)

	days := f.issue(t, ShareCustom, CreateOptions{CustomDays: 3})
	assert.Equal(t, RangePolicy{ValidFrom: t0, ValidUntil: t0.AddDate(0, 0, 3)}, days.Policy)

	fallback := f.issue(t, ShareCustom, CreateOptions{})
	assert.Equal(t, RangePolicy{ValidFrom: t0, ValidUntil: t0.Add(7 * 24 * time.Hour)}, fallback.Policy)
}

func TestCreateToken_IDs(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		tok, err := f.m.CreateToken("QmFile123456", f.key, f.iv, "a", "b", SharePermanent, "0xA", CreateOptions{})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(tok.TokenID, "QmFile12_1792056600000_"), tok.TokenID)
		assert.False(t, seen[tok.TokenID])
		seen[tok.TokenID] = true
	}
}

func TestCreateToken_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	now := t0
	cases := []struct {
		name string
		cid  string
		key  string
		iv   []byte
		st   ShareType
		opts CreateOptions
		want error
	}{
		{"empty cid", "", f.key, f.iv, ShareDay, CreateOptions{}, ErrInvalidOptions},
		{"bad key", "Qm1", "short", f.iv, ShareDay, CreateOptions{}, ErrInvalidOptions},
		{"bad iv", "Qm1", f.key, []byte{1, 2}, ShareDay, CreateOptions{}, ErrInvalidOptions},
		{"unknown share type", "Qm1", f.key, f.iv, ShareType("weekly"), CreateOptions{}, ErrInvalidShareType},
		{"half range", "Qm1", f.key, f.iv, ShareCustom, CreateOptions{ValidFrom: now}, ErrInvalidOptions},
		{"inverted range", "Qm1", f.key, f.iv, ShareCustom, CreateOptions{ValidFrom: now, ValidUntil: now}, ErrInvalidOptions},
		{"negative days", "Qm1", f.key, f.iv, ShareCustom, CreateOptions{CustomDays: -1}, ErrInvalidOptions},
		{"negative views", "Qm1", f.key, f.iv, ShareDay, CreateOptions{MaxViews: -1}, ErrInvalidOptions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.m.CreateToken(tc.cid, tc.key, tc.iv, "a", "b", tc.st, "0xA", tc.opts)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStore_DuplicateIDIsAnError(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, ShareDay, CreateOptions{})

	again := *tok
	again.FileName = "other.pdf"
	err := f.m.Store(context.Background(), &again)
	assert.ErrorIs(t, err, ErrDuplicateToken)

	got, err := f.m.Get(context.Background(), tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", got.FileName)
}

func TestStore_RejectsIncompleteToken(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.m.Store(context.Background(), nil), ErrInvalidOptions)
	assert.ErrorIs(t, f.m.Store(context.Background(), &AccessToken{TokenID: "x"}), ErrInvalidOptions)
}

func TestValidate_MissingToken(t *testing.T) {
	f := newFixture(t)
	res := f.validate(t, "nope", t0)
	assert.False(t, res.Valid)
	assert.Nil(t, res.Token)
	assert.ErrorIs(t, res.Err(), ErrTokenNotFound)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, "not_found", res.Outcome())
}

func TestValidate_IsSideEffectFree(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, ShareOneTime, CreateOptions{})

	before, err := f.store.Get(context.Background(), storeKey(tok.TokenID))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.True(t, f.validate(t, tok.TokenID, t0).Valid)
	}
	f.validate(t, tok.TokenID, t0.Add(30*24*time.Hour))
	after, err := f.store.Get(context.Background(), storeKey(tok.TokenID))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOneTimeToken_BurnsAfterOneView(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, ShareOneTime, CreateOptions{})
	ctx := context.Background()

	assert.True(t, f.validate(t, tok.TokenID, t0).Valid)

	viewed, err := f.m.RecordView(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, viewed.ViewCount)
	assert.False(t, viewed.IsActive)

	res := f.validate(t, tok.TokenID, t0)
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err(), ErrTokenExhausted)
	assert.Contains(t, res.Reason, "one-time")
	assert.Contains(t, res.Reason, "used")
}

func TestOneTimeToken_ExpiresUnviewed(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, ShareOneTime, CreateOptions{})

	assert.True(t, f.validate(t, tok.TokenID, t0.Add(7*24*time.Hour)).Valid)
	res := f.validate(t, tok.TokenID, t0.Add(7*24*time.Hour+time.Millisecond))
	assert.ErrorIs(t, res.Err(), ErrTokenExpired)
}

func TestDayToken_Boundary(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, ShareDay, CreateOptions{})
	exp := t0.Add(24 * time.Hour)

	assert.True(t, f.validate(t, tok.TokenID, exp.Add(-time.Millisecond)).Valid)
	assert.True(t, f.validate(t, tok.TokenID, exp).Valid)

	res := f.validate(t, tok.TokenID, exp.Add(time.Millisecond))
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err(), ErrTokenExpired)
	assert.Contains(t, res.Reason, "expired")
}

func TestCustomToken_Window(t *testing.T) {
	f := newFixture(t)
	t1, t2 := t0.Add(2*time.Hour), t0.Add(50*time.Hour)
	tok := f.issue(t, ShareCustom, CreateOptions{ValidFrom: t1, ValidUntil: t2})

	early := f.validate(t, tok.TokenID, t1.Add(-time.Nanosecond))
	assert.False(t, early.Valid)
	assert.ErrorIs(t, early.Err(), ErrTokenNotYetValid)
	assert.Contains(t, early.Reason, "not valid")

	assert.True(t, f.validate(t, tok.TokenID, t1.Add(time.Hour)).Valid)

	late := f.validate(t, tok.TokenID, t2.Add(time.Nanosecond))
	assert.False(t, late.Valid)
	assert.ErrorIs(t, late.Err(), ErrTokenExpired)
	assert.Contains(t, late.Reason, "expired")
}

func TestPermanentToken_SurvivesViewsAndTime(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, SharePermanent, CreateOptions{})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_, err := f.m.RecordView(ctx, tok.TokenID)
		require.NoError(t, err)
	}
	res := f.validate(t, tok.TokenID, t0.AddDate(10, 0, 0))
	assert.True(t, res.Valid)
	assert.Equal(t, 1000, res.Token.ViewCount)
}

func TestRevoke_InvalidatesEveryPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, st := range []ShareType{ShareOneTime, ShareDay, ShareCustom, SharePermanent} {
		tok := f.issue(t, st, CreateOptions{MaxViews: 100})
		require.True(t, f.validate(t, tok.TokenID, t0).Valid, st)

		require.NoError(t, f.m.Revoke(ctx, tok.TokenID))
		res := f.validate(t, tok.TokenID, t0)
		assert.False(t, res.Valid, st)
		assert.ErrorIs(t, res.Err(), ErrTokenInactive, st)
		assert.Contains(t, res.Reason, "revoked")

		// Views never bring it back.
		_, err := f.m.RecordView(ctx, tok.TokenID)
		require.NoError(t, err)
		assert.False(t, f.validate(t, tok.TokenID, t0).Valid, st)
	}
}

func TestRevoke_MissingIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.m.Revoke(context.Background(), "nope"))
	assert.NoError(t, f.m.Revoke(context.Background(), "nope"))
}

func TestRecordView_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.RecordView(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestValidate_CheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Exhausted wins over expired.
	tok := f.issue(t, ShareDay, CreateOptions{MaxViews: 2})
	for i := 0; i < 2; i++ {
		_, err := f.m.RecordView(ctx, tok.TokenID)
		require.NoError(t, err)
	}
	res := f.validate(t, tok.TokenID, t0.Add(48*time.Hour))
	assert.ErrorIs(t, res.Err(), ErrTokenExhausted)
	assert.Contains(t, res.Reason, "maximum number of views")

	// Revoked wins over expired.
	tok = f.issue(t, ShareCustom, CreateOptions{ValidFrom: t0.Add(time.Hour), ValidUntil: t0.Add(2 * time.Hour)})
	require.NoError(t, f.m.Revoke(ctx, tok.TokenID))
	assert.ErrorIs(t, f.validate(t, tok.TokenID, t0).Err(), ErrTokenInactive)
	assert.ErrorIs(t, f.validate(t, tok.TokenID, t0.Add(3*time.Hour)).Err(), ErrTokenInactive)
}

func TestEndToEnd_EncryptShareView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, err := cryptox.Encrypt([]byte("0123456789"), cryptox.Metadata{FileName: "a.txt"})
	require.NoError(t, err)

	tok, err := f.m.CreateToken("QmCipher", cryptox.ExportKey(env.Key), env.IV, "a.txt", "text/plain", ShareOneTime, "0xA", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, f.m.Store(ctx, tok))

	res := f.validate(t, tok.TokenID, f.clock.Now())
	require.True(t, res.Valid)

	key, err := cryptox.ImportKey(res.Token.EncryptionKey)
	require.NoError(t, err)
	data, md, err := cryptox.Decrypt(env.Ciphertext, key, res.Token.IV)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, "a.txt", md.FileName)

	_, err = f.m.RecordView(ctx, tok.TokenID)
	require.NoError(t, err)

	res = f.validate(t, tok.TokenID, f.clock.Now())
	assert.False(t, res.Valid)
	assert.True(t, strings.Contains(res.Reason, "one-time") || strings.Contains(res.Reason, "used"))
}

func TestConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.issue(t, ShareOneTime, CreateOptions{})

	res, err := f.m.Consume(ctx, tok.TokenID, t0)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, 1, res.Token.ViewCount)
	assert.False(t, res.Token.IsActive)

	res, err = f.m.Consume(ctx, tok.TokenID, t0)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err(), ErrTokenExhausted)

	stored, err := f.m.Get(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ViewCount)

	res, err = f.m.Consume(ctx, "nope", t0)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrTokenNotFound)
}

func TestConsume_RejectedDoesNotCountView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.issue(t, ShareDay, CreateOptions{})

	res, err := f.m.Consume(ctx, tok.TokenID, t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), ErrTokenExpired)

	stored, err := f.m.Get(ctx, tok.TokenID)
	require.NoError(t, err)
	assert.Zero(t, stored.ViewCount)
}

func TestConsume_ConcurrentNeverExceedsMaxViews(t *testing.T) {
	stores := map[string]func(t *testing.T) kvstore.Store{
		"memory": func(t *testing.T) kvstore.Store { return kvstore.NewMemoryStore() },
		"badger": func(t *testing.T) kvstore.Store {
			st, err := kvstore.OpenBadger("")
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.m = NewManager(open(t), WithClock(f.clock.Now))
			tok := f.issue(t, SharePermanent, CreateOptions{MaxViews: 5})

			var granted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := f.m.Consume(context.Background(), tok.TokenID, t0)
					if err == nil && res.Valid {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.EqualValues(t, 5, granted.Load())
			stored, err := f.m.Get(context.Background(), tok.TokenID)
			require.NoError(t, err)
			assert.Equal(t, 5, stored.ViewCount)
			assert.False(t, stored.IsActive)
		})
	}
}

func TestRecordView_ConcurrentCountsEveryView(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, ShareDay, CreateOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.RecordView(context.Background(), tok.TokenID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.m.Get(context.Background(), tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 25, stored.ViewCount)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	day := f.issue(t, ShareDay, CreateOptions{})
	oneUsed := f.issue(t, ShareOneTime, CreateOptions{})
	oneFresh := f.issue(t, ShareOneTime, CreateOptions{})
	revoked := f.issue(t, ShareCustom, CreateOptions{CustomDays: 30})
	future := f.issue(t, ShareCustom, CreateOptions{ValidFrom: t0.Add(48 * time.Hour), ValidUntil: t0.Add(96 * time.Hour)})
	perm := f.issue(t, SharePermanent, CreateOptions{})
	permRevoked := f.issue(t, SharePermanent, CreateOptions{})

	_, err := f.m.RecordView(ctx, oneUsed.TokenID)
	require.NoError(t, err)
	require.NoError(t, f.m.Revoke(ctx, revoked.TokenID))
	require.NoError(t, f.m.Revoke(ctx, permRevoked.TokenID))
	require.NoError(t, f.store.Set(ctx, keyPrefix+"garbage", []byte("{not json")))

	n, err := f.m.Cleanup(ctx, t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []string{day.TokenID, oneUsed.TokenID, revoked.TokenID} {
		_, err := f.m.Get(ctx, id)
		assert.ErrorIs(t, err, ErrTokenNotFound, id)
	}
	for _, id := range []string{oneFresh.TokenID, future.TokenID, perm.TokenID, permRevoked.TokenID} {
		_, err := f.m.Get(ctx, id)
		assert.NoError(t, err, id)
	}

	n, err = f.m.Cleanup(ctx, t0.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListByCreatorAndRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1 := f.issue(t, ShareDay, CreateOptions{Recipient: "0xB"})
	f.clock.Advance(time.Minute)
	a2 := f.issue(t, ShareOneTime, CreateOptions{Recipient: "0xb"})
	f.clock.Advance(time.Minute)
	a3 := f.issue(t, SharePermanent, CreateOptions{Recipient: "0xC"})

	other, err := f.m.CreateToken("QmOther", f.key, f.iv, "x", "y", SharePermanent, "0xZ", CreateOptions{Recipient: "0xB"})
	require.NoError(t, err)
	require.NoError(t, f.m.Store(ctx, other))

	mine, err := f.m.ListByCreator(ctx, "0xa")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, []string{a3.TokenID, a2.TokenID, a1.TokenID},
		[]string{mine[0].TokenID, mine[1].TokenID, mine[2].TokenID})

	_, err = f.m.RecordView(ctx, a2.TokenID)
	require.NoError(t, err)

	got, err := f.m.ListByRecipient(ctx, "0xB", f.clock.Now())
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, tok := range got {
		ids[tok.TokenID] = true
	}
	assert.Equal(t, map[string]bool{a1.TokenID: true, other.TokenID: true}, ids)

	later, err := f.m.ListByRecipient(ctx, "0xB", t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, other.TokenID, later[0].TokenID)

	none, err := f.m.ListByRecipient(ctx, "", t0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

type failingStore struct {
	kvstore.Store
}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) List(context.Context, string) (map[string][]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailuresSurface(t *testing.T) {
	m := NewManager(failingStore{Store: kvstore.NewMemoryStore()})
	ctx := context.Background()

	_, err := m.Validate(ctx, "x", t0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenNotFound)

	_, err = m.Consume(ctx, "x", t0)
	assert.Error(t, err)

	assert.Error(t, m.Revoke(ctx, "x"))

	_, err = m.Cleanup(ctx, t0)
	assert.Error(t, err)

	_, err = m.ListByCreator(ctx, "0xA")
	assert.Error(t, err)
}

type racingStore struct {
	kvstore.Store
	misses atomic.Int32
}

func (r *racingStore) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	if r.misses.Add(-1) >= 0 {
		return false, nil
	}
	return r.Store.CompareAndSwap(ctx, key, prev, next)
}

func TestRecordView_RetriesLostSwaps(t *testing.T) {
	rs := &racingStore{Store: kvstore.NewMemoryStore()}
	rs.misses.Store(3)
	f := newFixture(t)
	f.m = NewManager(rs, WithClock(f.clock.Now))
	tok := f.issue(t, ShareDay, CreateOptions{})

	got, err := f.m.RecordView(context.Background(), tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewCount)
}

func TestRecordView_StopsOnCancelledContext(t *testing.T) {
	rs := &racingStore{Store: kvstore.NewMemoryStore()}
	f := newFixture(t)
	f.m = NewManager(rs, WithClock(f.clock.Now))
	tok := f.issue(t, ShareDay, CreateOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.m.RecordView(ctx, tok.TokenID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_PropagatesStoreErrors(t *testing.T) {
	f := newFixture(t)
	tok, err := f.m.CreateToken("Qm1", f.key, f.iv, "a", "b", ShareDay, "0xA", CreateOptions{})
	require.NoError(t, err)

	m := NewManager(createFails{kvstore.NewMemoryStore()})
	err = m.Store(context.Background(), tok)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateToken)
}

type createFails struct{ kvstore.Store }

func (createFails) Create(context.Context, string, []byte) error { return common.ErrorInternal }
