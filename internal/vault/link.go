package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/dmitrijs2005/medvault/internal/tokens"
)

// Link is what a share URL carries. A token id alone sends the viewer down
// the token path; cid, key and iv without a token open the file directly.
type Link struct {
	TokenID  string
	CID      string
	Key      string
	IV       []byte
	FileName string
	FileType string
}

// Direct reports whether the link can be opened without a token.
func (l Link) Direct() bool {
	return l.TokenID == "" && l.CID != "" && l.Key != "" && len(l.IV) > 0
}

// BuildLink appends l as query parameters to base. Empty fields are left
// out; the IV is written as a JSON array of byte values.
func BuildLink(base string, l Link) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("tokenId", l.TokenID)
	set("cid", l.CID)
	set("key", l.Key)
	if len(l.IV) > 0 {
		iv, err := json.Marshal(tokens.IVToInts(l.IV))
		if err != nil {
			return "", err
		}
		q.Set("iv", string(iv))
	}
	set("fileName", l.FileName)
	set("fileType", l.FileType)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func ParseLink(raw string) (Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, fmt.Errorf("parse link: %w", err)
	}
	q := u.Query()
	l := Link{
		TokenID:  q.Get("tokenId"),
		CID:      q.Get("cid"),
		Key:      q.Get("key"),
		FileName: q.Get("fileName"),
		FileType: q.Get("fileType"),
	}
	if s := q.Get("iv"); s != "" {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return Link{}, fmt.Errorf("parse iv: %w", err)
		}
		if l.IV, err = tokens.IVFromInts(ints); err != nil {
			return Link{}, err
		}
	}
	if l.TokenID == "" && !l.Direct() {
		return Link{}, errors.New("link carries neither a token id nor cid, key and iv")
	}
	return l, nil
}
