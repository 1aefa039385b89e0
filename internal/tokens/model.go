// Package tokens mints, persists and validates share tokens: capabilities
// that release a file's key material under a time window and view budget.
package tokens

import (
	"encoding/json"
	"fmt"
	"time"
)

// ShareType names the policy a token was created with.
type ShareType string

const (
	ShareOneTime   ShareType = "one-time"
	ShareDay       ShareType = "24-hours"
	ShareCustom    ShareType = "custom"
	SharePermanent ShareType = "permanent"
)

// ParseShareType accepts the wire names of the four policies.
func ParseShareType(s string) (ShareType, error) {
	switch st := ShareType(s); st {
	case ShareOneTime, ShareDay, ShareCustom, SharePermanent:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidShareType, s)
}

// Policy is the time window of a token. Each share type carries only the
// fields it uses.
type Policy interface {
	ShareType() ShareType

	// window reports the rejection for now, or nil when now is inside the
	// window.
	window(now time.Time) error

	// over reports whether the window is closed for good at now.
	over(now time.Time) bool
}

// OneTimePolicy bounds an unviewed one-time token.
type OneTimePolicy struct {
	ExpiresAt time.Time
}

func (OneTimePolicy) ShareType() ShareType { return ShareOneTime }

func (p OneTimePolicy) window(now time.Time) error { return expiry(p.ExpiresAt, now) }

func (p OneTimePolicy) over(now time.Time) bool { return now.After(p.ExpiresAt) }

type DayPolicy struct {
	ExpiresAt time.Time
}

func (DayPolicy) ShareType() ShareType { return ShareDay }

func (p DayPolicy) window(now time.Time) error { return expiry(p.ExpiresAt, now) }

func (p DayPolicy) over(now time.Time) bool { return now.After(p.ExpiresAt) }

// RangePolicy is valid from ValidFrom through ValidUntil inclusive.
type RangePolicy struct {
	ValidFrom  time.Time
	ValidUntil time.Time
}

func (RangePolicy) ShareType() ShareType { return ShareCustom }

func (p RangePolicy) window(now time.Time) error {
	if now.Before(p.ValidFrom) {
		return ErrTokenNotYetValid
	}
	return expiry(p.ValidUntil, now)
}

func (p RangePolicy) over(now time.Time) bool { return now.After(p.ValidUntil) }

type PermanentPolicy struct{}

func (PermanentPolicy) ShareType() ShareType { return SharePermanent }

func (PermanentPolicy) window(time.Time) error { return nil }

func (PermanentPolicy) over(time.Time) bool { return false }

func expiry(at, now time.Time) error {
	if now.After(at) {
		return ErrTokenExpired
	}
	return nil
}

// AccessToken is the persisted sharing state of one file.
type AccessToken struct {
	TokenID string

	CID           string
	EncryptionKey string // base64 of the raw file key
	IV            []byte
	FileName      string
	FileType      string

	Policy    Policy
	MaxViews  int // 0 means unlimited
	ViewCount int
	IsActive  bool

	CreatedAt time.Time
	CreatedBy string
	Recipient string
}

func (t *AccessToken) ShareType() ShareType {
	if t.Policy == nil {
		return ""
	}
	return t.Policy.ShareType()
}

// Exhausted reports whether the view budget is spent.
func (t *AccessToken) Exhausted() bool {
	return t.MaxViews > 0 && t.ViewCount >= t.MaxViews
}

// ExpiresAt returns the hard end of the token's window, if it has one.
func (t *AccessToken) ExpiresAt() (time.Time, bool) {
	switch p := t.Policy.(type) {
	case OneTimePolicy:
		return p.ExpiresAt, true
	case DayPolicy:
		return p.ExpiresAt, true
	case RangePolicy:
		return p.ValidUntil, true
	}
	return time.Time{}, false
}

// tokenJSON is the stored form: the flat record share links and clients
// understand. The IV is an array of byte values.
type tokenJSON struct {
	TokenID       string     `json:"tokenId"`
	CID           string     `json:"cid"`
	EncryptionKey string     `json:"encryptionKey"`
	IV            []int      `json:"iv"`
	FileName      string     `json:"fileName"`
	FileType      string     `json:"fileType"`
	ShareType     ShareType  `json:"shareType"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ValidFrom     *time.Time `json:"validFrom,omitempty"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
	MaxViews      int        `json:"maxViews,omitempty"`
	ViewCount     int        `json:"viewCount"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	CreatedBy     string     `json:"createdBy"`
	Recipient     string     `json:"recipient,omitempty"`
}

func (t AccessToken) MarshalJSON() ([]byte, error) {
	w := tokenJSON{
		TokenID:       t.TokenID,
		CID:           t.CID,
		EncryptionKey: t.EncryptionKey,
		IV:            IVToInts(t.IV),
		FileName:      t.FileName,
		FileType:      t.FileType,
		MaxViews:      t.MaxViews,
		ViewCount:     t.ViewCount,
		IsActive:      t.IsActive,
		CreatedAt:     t.CreatedAt,
		CreatedBy:     t.CreatedBy,
		Recipient:     t.Recipient,
	}
	switch p := t.Policy.(type) {
	case OneTimePolicy:
		w.ShareType, w.ExpiresAt = ShareOneTime, &p.ExpiresAt
	case DayPolicy:
		w.ShareType, w.ExpiresAt = ShareDay, &p.ExpiresAt
	case RangePolicy:
		w.ShareType, w.ValidFrom, w.ValidUntil = ShareCustom, &p.ValidFrom, &p.ValidUntil
	case PermanentPolicy:
		w.ShareType = SharePermanent
	default:
		return nil, fmt.Errorf("token %s: unknown policy %T", t.TokenID, t.Policy)
	}
	return json.Marshal(w)
}

func (t *AccessToken) UnmarshalJSON(b []byte) error {
	var w tokenJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	iv, err := IVFromInts(w.IV)
	if err != nil {
		return err
	}

	var p Policy
	switch w.ShareType {
	case ShareOneTime, ShareDay:
		if w.ExpiresAt == nil {
			return fmt.Errorf("%s token without expiresAt", w.ShareType)
		}
		if w.ValidFrom != nil || w.ValidUntil != nil {
			return fmt.Errorf("%s token with a validity range", w.ShareType)
		}
		if w.ShareType == ShareOneTime {
			p = OneTimePolicy{ExpiresAt: *w.ExpiresAt}
		} else {
			p = DayPolicy{ExpiresAt: *w.ExpiresAt}
		}
	case ShareCustom:
		if w.ValidFrom == nil || w.ValidUntil == nil {
			return fmt.Errorf("custom token without validFrom/validUntil")
		}
		if w.ExpiresAt != nil {
			return fmt.Errorf("custom token with expiresAt")
		}
		p = RangePolicy{ValidFrom: *w.ValidFrom, ValidUntil: *w.ValidUntil}
	case SharePermanent:
		if w.ExpiresAt != nil || w.ValidFrom != nil || w.ValidUntil != nil {
			return fmt.Errorf("permanent token with an expiry")
		}
		p = PermanentPolicy{}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidShareType, w.ShareType)
	}

	*t = AccessToken{
		TokenID:       w.TokenID,
		CID:           w.CID,
		EncryptionKey: w.EncryptionKey,
		IV:            iv,
		FileName:      w.FileName,
		FileType:      w.FileType,
		Policy:        p,
		MaxViews:      w.MaxViews,
		ViewCount:     w.ViewCount,
		IsActive:      w.IsActive,
		CreatedAt:     w.CreatedAt,
		CreatedBy:     w.CreatedBy,
		Recipient:     w.Recipient,
	}
	return nil
}

// IVToInts spells an IV as byte values, the way share links carry it.
func IVToInts(iv []byte) []int {
	out := make([]int, len(iv))
	for i, b := range iv {
		out[i] = int(b)
	}
	return out
}

func IVFromInts(v []int) ([]byte, error) {
	out := make([]byte, len(v))
	for i, n := range v {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("iv[%d]=%d is not a byte", i, n)
		}
		out[i] = byte(n)
	}
	return out, nil
}
