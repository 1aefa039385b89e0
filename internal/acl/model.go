// Package acl keeps per-file access lists: the owner of a CID always has
// access, other wallets hold temporary or permanent grants.
package acl

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AccessType string

const (
	AccessOwner     AccessType = "owner"
	AccessTemporary AccessType = "temporary"
	AccessPermanent AccessType = "permanent"
)

// MaxGrantHours caps temporary grants at ten years.
const MaxGrantHours = 10 * 365 * 24

var (
	ErrInvalidGrant = errors.New("invalid grant")
	ErrNotOwner     = errors.New("only the owner can change access")
)

// Entry is one grant. ExpiresAt is set for temporary grants only.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	AccessType    AccessType `json:"accessType"`
	GrantedAt     time.Time  `json:"grantedAt"`
	GrantedBy     string     `json:"grantedBy"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

func (e Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

type ACL struct {
	CID        string    `json:"cid"`
	Owner      string    `json:"owner"`
	AccessList []Entry   `json:"accessList"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Decision is the answer of Verify.
type Decision struct {
	HasAccess  bool       `json:"hasAccess"`
	AccessType AccessType `json:"accessType,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

func New(cid, owner string, now time.Time) *ACL {
	return &ACL{CID: cid, Owner: owner, AccessList: []Entry{}, CreatedAt: now}
}

// SameWallet compares wallet addresses, ignoring hex letter case.
func SameWallet(a, b string) bool { return strings.EqualFold(a, b) }

func (a *ACL) IsOwner(wallet string) bool { return SameWallet(a.Owner, wallet) }

func (a *ACL) find(wallet string) int {
	for i, e := range a.AccessList {
		if SameWallet(e.WalletAddress, wallet) {
			return i
		}
	}
	return -1
}

// Grant adds or replaces the wallet's entry. Temporary grants need a positive
// duration; permanent grants ignore it.
func (a *ACL) Grant(wallet string, typ AccessType, grantedBy string, d time.Duration, now time.Time) (Entry, error) {
	if wallet == "" {
		return Entry{}, fmt.Errorf("%w: empty wallet address", ErrInvalidGrant)
	}
	if a.IsOwner(wallet) {
		return Entry{}, fmt.Errorf("%w: owner already has access", ErrInvalidGrant)
	}
	e := Entry{
		ID:            uuid.New(),
		WalletAddress: wallet,
		AccessType:    typ,
		GrantedAt:     now,
		GrantedBy:     grantedBy,
	}
	switch typ {
	case AccessTemporary:
		if d <= 0 {
			return Entry{}, fmt.Errorf("%w: temporary access needs a duration", ErrInvalidGrant)
		}
		exp := now.Add(d)
		e.ExpiresAt = &exp
	case AccessPermanent:
	default:
		return Entry{}, fmt.Errorf("%w: unknown access type %q", ErrInvalidGrant, typ)
	}

	if i := a.find(wallet); i >= 0 {
		a.AccessList[i] = e
	} else {
		a.AccessList = append(a.AccessList, e)
	}
	return e, nil
}

// Revoke drops the wallet's entry and reports whether there was one.
func (a *ACL) Revoke(wallet string) bool {
	i := a.find(wallet)
	if i < 0 {
		return false
	}
	a.AccessList = append(a.AccessList[:i], a.AccessList[i+1:]...)
	return true
}

// Verify answers whether wallet may read the file at now. The owner check
// comes first; expired grants count as absent.
func (a *ACL) Verify(wallet string, now time.Time) Decision {
	if a.IsOwner(wallet) {
		return Decision{HasAccess: true, AccessType: AccessOwner}
	}
	i := a.find(wallet)
	if i < 0 {
		return Decision{Reason: "No access granted for this wallet"}
	}
	e := a.AccessList[i]
	if e.expired(now) {
		return Decision{
			Reason:    "Access expired on " + e.ExpiresAt.UTC().Format(time.RFC1123),
			ExpiresAt: e.ExpiresAt,
		}
	}
	return Decision{HasAccess: true, AccessType: e.AccessType, ExpiresAt: e.ExpiresAt}
}

// Prune removes expired grants and returns how many went.
func (a *ACL) Prune(now time.Time) int {
	kept := a.AccessList[:0]
	for _, e := range a.AccessList {
		if !e.expired(now) {
			kept = append(kept, e)
		}
	}
	n := len(a.AccessList) - len(kept)
	a.AccessList = kept
	return n
}
