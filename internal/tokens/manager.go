package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/kvstore"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/metrics"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

const (
	keyPrefix = "token:"

	// OneTimeLifetime bounds a one-time link that is never opened.
	OneTimeLifetime = 7 * 24 * time.Hour
	DayLifetime     = 24 * time.Hour
	// DefaultCustomLifetime applies to custom shares created without a range
	// or a day count.
	DefaultCustomLifetime = 7 * 24 * time.Hour
)

// CreateOptions tunes CreateToken. Zero values mean "not given".
type CreateOptions struct {
	// ValidFrom and ValidUntil set a custom window; both or neither.
	ValidFrom  time.Time
	ValidUntil time.Time
	// CustomDays sets a custom window of now..now+days when no range is given.
	CustomDays int
	// MaxViews limits views for 24-hours, custom and permanent shares.
	// One-time shares always allow exactly one.
	MaxViews int
	// Recipient is the identity the link is meant for, if any.
	Recipient string
}

// Manager owns the token records in a kvstore.Store. Updates of a single
// token go through compare-and-swap, so concurrent callers never lose a view.
type Manager struct {
	store   kvstore.Store
	clock   timex.Clock
	log     logging.Logger
	metrics *metrics.Metrics
}

type Option func(*Manager)

func WithClock(c timex.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l logging.Logger) Option { return func(m *Manager) { m.log = l } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func NewManager(store kvstore.Store, opts ...Option) *Manager {
	m := &Manager{store: store, clock: timex.SystemClock, log: logging.Nop()}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "tokens")
	return m
}

// CreateToken builds a new active token for the given file. It does not
// persist it; call Store for that.
func (m *Manager) CreateToken(cid, key string, iv []byte, fileName, fileType string,
	shareType ShareType, createdBy string, opts CreateOptions) (*AccessToken, error) {

	if cid == "" {
		return nil, fmt.Errorf("%w: empty cid", ErrInvalidOptions)
	}
	if _, err := cryptox.ImportKey(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if len(iv) != cryptox.NonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrInvalidOptions, cryptox.NonceSize)
	}
	if opts.MaxViews < 0 {
		return nil, fmt.Errorf("%w: negative max views", ErrInvalidOptions)
	}

	now := m.clock()
	t := &AccessToken{
		CID:           cid,
		EncryptionKey: key,
		IV:            append([]byte(nil), iv...),
		FileName:      fileName,
		FileType:      fileType,
		MaxViews:      opts.MaxViews,
		IsActive:      true,
		CreatedAt:     now,
		CreatedBy:     createdBy,
		Recipient:     opts.Recipient,
	}

	switch shareType {
	case ShareOneTime:
		t.Policy = OneTimePolicy{ExpiresAt: now.Add(OneTimeLifetime)}
		t.MaxViews = 1
	case ShareDay:
		t.Policy = DayPolicy{ExpiresAt: now.Add(DayLifetime)}
	case ShareCustom:
		p, err := customRange(now, opts)
		if err != nil {
			return nil, err
		}
		t.Policy = p
	case SharePermanent:
		t.Policy = PermanentPolicy{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidShareType, shareType)
	}

	id, err := newTokenID(cid, now)
	if err != nil {
		return nil, fmt.Errorf("generate token id: %w", err)
	}
	t.TokenID = id
	return t, nil
}

func customRange(now time.Time, opts CreateOptions) (RangePolicy, error) {
	hasFrom, hasUntil := !opts.ValidFrom.IsZero(), !opts.ValidUntil.IsZero()
	switch {
	case hasFrom && hasUntil:
		if !opts.ValidUntil.After(opts.ValidFrom) {
			return RangePolicy{}, fmt.Errorf("%w: validUntil must be after validFrom", ErrInvalidOptions)
		}
		return RangePolicy{ValidFrom: opts.ValidFrom, ValidUntil: opts.ValidUntil}, nil
	case hasFrom || hasUntil:
		return RangePolicy{}, fmt.Errorf("%w: custom range needs both validFrom and validUntil", ErrInvalidOptions)
	case opts.CustomDays < 0:
		return RangePolicy{}, fmt.Errorf("%w: negative custom days", ErrInvalidOptions)
	case opts.CustomDays > 0:
		return RangePolicy{ValidFrom: now, ValidUntil: now.AddDate(0, 0, opts.CustomDays)}, nil
	}
	return RangePolicy{ValidFrom: now, ValidUntil: now.Add(DefaultCustomLifetime)}, nil
}

// newTokenID joins a cid prefix, the creation time in milliseconds and a
// random suffix.
func newTokenID(cid string, now time.Time) (string, error) {
	prefix := cid
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	suffix, err := common.MakeRandHexString(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix), nil
}

func storeKey(id string) string { return keyPrefix + id }

// Store persists a new token. An id that is already taken yields
// ErrDuplicateToken and leaves the stored token untouched.
func (m *Manager) Store(ctx context.Context, t *AccessToken) error {
	if t == nil || t.TokenID == "" || t.Policy == nil {
		return fmt.Errorf("%w: incomplete token", ErrInvalidOptions)
	}
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := m.store.Create(ctx, storeKey(t.TokenID), b); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrDuplicateToken, t.TokenID)
		}
		return fmt.Errorf("store token: %w", err)
	}
	m.metrics.TokenIssued(string(t.ShareType()))
	m.log.Info(ctx, "token stored", "token_id", t.TokenID, "cid", t.CID, "share_type", t.ShareType())
	return nil
}

// Get loads a token, returning ErrTokenNotFound when it is absent.
func (m *Manager) Get(ctx context.Context, id string) (*AccessToken, error) {
	t, _, err := m.load(ctx, id)
	return t, err
}

func (m *Manager) load(ctx context.Context, id string) (*AccessToken, []byte, error) {
	raw, err := m.store.Get(ctx, storeKey(id))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, ErrTokenNotFound
		}
		return nil, nil, fmt.Errorf("load token %s: %w", id, err)
	}
	var t AccessToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, nil, fmt.Errorf("decode token %s: %w", id, err)
	}
	return &t, raw, nil
}

// Validate checks a token at now without changing it. A missing token is a
// failed Result, not an error; the error is reserved for store failures.
func (m *Manager) Validate(ctx context.Context, id string, now time.Time) (Result, error) {
	t, _, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			m.metrics.TokenChecked("not_found")
			return notFound(), nil
		}
		return Result{}, err
	}
	res := check(t, now)
	m.metrics.TokenChecked(res.Outcome())
	return res, nil
}

// update applies fn to the stored token until the swap lands. fn returning
// false means there is nothing to write.
func (m *Manager) update(ctx context.Context, id string, fn func(t *AccessToken) (bool, error)) (*AccessToken, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, raw, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		write, err := fn(t)
		if err != nil || !write {
			return t, err
		}
		next, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode token: %w", err)
		}
		ok, err := m.store.CompareAndSwap(ctx, storeKey(id), raw, next)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, ErrTokenNotFound
			}
			return nil, fmt.Errorf("update token %s: %w", id, err)
		}
		if ok {
			return t, nil
		}
		m.log.Debug(ctx, "token changed underneath, retrying", "token_id", id)
	}
}

func recordView(t *AccessToken) {
	t.ViewCount++
	if t.Exhausted() {
		t.IsActive = false
	}
}

// RecordView counts one view and burns the token when it reaches its view
// limit. Each call counts, so call it once per real access.
func (m *Manager) RecordView(ctx context.Context, id string) (*AccessToken, error) {
	t, err := m.update(ctx, id, func(t *AccessToken) (bool, error) {
		recordView(t)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.TokenViewed()
	if !t.IsActive {
		m.log.Info(ctx, "token burned", "token_id", id, "views", t.ViewCount)
	}
	return t, nil
}

// Consume validates the token at now and, if it is valid, records the view
// in the same swap. Concurrent consumers can never exceed MaxViews.
func (m *Manager) Consume(ctx context.Context, id string, now time.Time) (Result, error) {
	var res Result
	_, err := m.update(ctx, id, func(t *AccessToken) (bool, error) {
		res = check(t, now)
		if !res.Valid {
			return false, nil
		}
		recordView(t)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			m.metrics.TokenChecked("not_found")
			return notFound(), nil
		}
		return Result{}, err
	}
	m.metrics.TokenChecked(res.Outcome())
	if res.Valid {
		m.metrics.TokenViewed()
		m.log.Info(ctx, "token consumed", "token_id", id, "views", res.Token.ViewCount, "active", res.Token.IsActive)
	}
	return res, nil
}

// Revoke deactivates a token for good. Revoking a missing or already
// inactive token does nothing.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	_, err := m.update(ctx, id, func(t *AccessToken) (bool, error) {
		if !t.IsActive {
			return false, nil
		}
		t.IsActive = false
		return true, nil
	})
	if errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	m.log.Info(ctx, "token revoked", "token_id", id)
	return nil
}

// removable reports whether t can never validate again after now.
// Permanent tokens are always kept.
func removable(t *AccessToken, now time.Time) bool {
	if t.ShareType() == SharePermanent {
		return false
	}
	return !t.IsActive || t.Exhausted() || t.Policy.over(now)
}

// Cleanup deletes tokens that can no longer be opened and returns how many
// were removed. Records that fail to decode are skipped.
func (m *Manager) Cleanup(ctx context.Context, now time.Time) (int, error) {
	all, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	removed := 0
	for key, raw := range all {
		var t AccessToken
		if err := json.Unmarshal(raw, &t); err != nil {
			m.log.Warn(ctx, "skipping undecodable token", "store_key", key, "error", err)
			continue
		}
		if !removable(&t, now) {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete token %s: %w", t.TokenID, err)
		}
		removed++
	}
	m.metrics.CleanupRemoved("tokens", removed)
	if removed > 0 {
		m.log.Info(ctx, "token cleanup", "removed", removed)
	}
	return removed, nil
}

func (m *Manager) list(ctx context.Context, keep func(t *AccessToken) bool) ([]*AccessToken, error) {
	all, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	var out []*AccessToken
	for key, raw := range all {
		t := new(AccessToken)
		if err := json.Unmarshal(raw, t); err != nil {
			m.log.Warn(ctx, "skipping undecodable token", "store_key", key, "error", err)
			continue
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out, nil
}

// ListByCreator returns every token created by the identity, newest first,
// whatever its state.
func (m *Manager) ListByCreator(ctx context.Context, createdBy string) ([]*AccessToken, error) {
	return m.list(ctx, func(t *AccessToken) bool {
		return strings.EqualFold(t.CreatedBy, createdBy)
	})
}

// ListByRecipient returns the tokens addressed to the identity that are
// valid at now.
func (m *Manager) ListByRecipient(ctx context.Context, recipient string, now time.Time) ([]*AccessToken, error) {
	if recipient == "" {
		return nil, nil
	}
	return m.list(ctx, func(t *AccessToken) bool {
		return strings.EqualFold(t.Recipient, recipient) && check(t, now).Valid
	})
}
