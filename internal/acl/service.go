package acl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/kvstore"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/metrics"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

const keyPrefix = "acl:"

func storeKey(cid string) string { return keyPrefix + cid }

// Service persists ACLs in a kvstore.Store, one record per CID.
type Service struct {
	store   kvstore.Store
	clock   timex.Clock
	log     logging.Logger
	metrics *metrics.Metrics
}

func NewService(store kvstore.Store, clock timex.Clock, log logging.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = timex.SystemClock
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, clock: clock, log: log.With("module", "acl"), metrics: m}
}

// CreateACL registers owner for cid. An existing ACL yields
// common.ErrorAlreadyExists.
func (s *Service) CreateACL(ctx context.Context, cid, owner string) (*ACL, error) {
	if cid == "" || owner == "" {
		return nil, fmt.Errorf("%w: cid and owner are required", common.ErrorValidation)
	}
	a := New(cid, owner, s.clock())
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode acl: %w", err)
	}
	if err := s.store.Create(ctx, storeKey(cid), b); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("store acl %s: %w", cid, err)
	}
	s.log.Info(ctx, "acl created", "cid", cid, "owner", owner)
	return a, nil
}

// Get returns the ACL of cid or common.ErrorNotFound.
func (s *Service) Get(ctx context.Context, cid string) (*ACL, error) {
	a, _, err := s.load(ctx, cid)
	return a, err
}

func (s *Service) load(ctx context.Context, cid string) (*ACL, []byte, error) {
	raw, err := s.store.Get(ctx, storeKey(cid))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrorNotFound
		}
		return nil, nil, fmt.Errorf("load acl %s: %w", cid, err)
	}
	var a ACL
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, nil, fmt.Errorf("decode acl %s: %w", cid, err)
	}
	return &a, raw, nil
}

// update runs fn on the stored ACL and swaps the result in, retrying when a
// concurrent writer got there first.
func (s *Service) update(ctx context.Context, cid string, fn func(a *ACL) (bool, error)) (*ACL, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, raw, err := s.load(ctx, cid)
		if err != nil {
			return nil, err
		}
		write, err := fn(a)
		if err != nil || !write {
			return a, err
		}
		next, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode acl: %w", err)
		}
		ok, err := s.store.CompareAndSwap(ctx, storeKey(cid), raw, next)
		if err != nil {
			return nil, fmt.Errorf("update acl %s: %w", cid, err)
		}
		if ok {
			return a, nil
		}
	}
}

// GrantAccess gives wallet access to cid on behalf of grantedBy, who must
// own it. durationHours applies to temporary grants.
func (s *Service) GrantAccess(ctx context.Context, cid, wallet string, typ AccessType, grantedBy string, durationHours int) (Entry, error) {
	if typ == AccessTemporary && durationHours > MaxGrantHours {
		return Entry{}, fmt.Errorf("%w: duration %dh exceeds %dh", ErrInvalidGrant, durationHours, MaxGrantHours)
	}
	var granted Entry
	_, err := s.update(ctx, cid, func(a *ACL) (bool, error) {
		if !a.IsOwner(grantedBy) {
			return false, ErrNotOwner
		}
		e, err := a.Grant(wallet, typ, grantedBy, time.Duration(durationHours)*time.Hour, s.clock())
		if err != nil {
			return false, err
		}
		granted = e
		return true, nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.log.Info(ctx, "access granted", "cid", cid, "wallet", wallet, "access_type", typ)
	return granted, nil
}

// RevokeAccess removes wallet's grant on cid. Only the owner may revoke;
// revoking a wallet without a grant does nothing.
func (s *Service) RevokeAccess(ctx context.Context, cid, wallet, requester string) error {
	_, err := s.update(ctx, cid, func(a *ACL) (bool, error) {
		if !a.IsOwner(requester) {
			return false, ErrNotOwner
		}
		return a.Revoke(wallet), nil
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "access revoked", "cid", cid, "wallet", wallet)
	return nil
}

// VerifyAccess answers whether wallet may read cid at now. A CID without an
// ACL predates access lists: the first wallet to ask is recorded as its
// owner.
func (s *Service) VerifyAccess(ctx context.Context, cid, wallet string, now time.Time) (Decision, error) {
	a, err := s.Get(ctx, cid)
	if errors.Is(err, common.ErrorNotFound) {
		a, err = s.CreateACL(ctx, cid, wallet)
		if errors.Is(err, common.ErrorAlreadyExists) {
			a, err = s.Get(ctx, cid)
		} else if err == nil {
			s.log.Warn(ctx, "legacy file adopted", "cid", cid, "owner", wallet)
		}
	}
	if err != nil {
		return Decision{}, err
	}
	d := a.Verify(wallet, now)
	if d.HasAccess {
		s.metrics.ACLChecked(string(d.AccessType))
	} else {
		s.metrics.ACLChecked("denied")
	}
	return d, nil
}

// CleanupExpiredAccess prunes expired grants from every ACL and returns how
// many grants were removed.
func (s *Service) CleanupExpiredAccess(ctx context.Context, now time.Time) (int, error) {
	all, err := s.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list acls: %w", err)
	}
	removed := 0
	for key, raw := range all {
		var a ACL
		if err := json.Unmarshal(raw, &a); err != nil {
			s.log.Warn(ctx, "skipping undecodable acl", "store_key", key, "error", err)
			continue
		}
		if a.Prune(now) == 0 {
			continue
		}
		n := 0
		_, err := s.update(ctx, strings.TrimPrefix(key, keyPrefix), func(a *ACL) (bool, error) {
			n = a.Prune(now)
			return n > 0, nil
		})
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed += n
	}
	s.metrics.CleanupRemoved("acl_grants", removed)
	if removed > 0 {
		s.log.Info(ctx, "acl cleanup", "removed", removed)
	}
	return removed, nil
}
