// Package api is the HTTP client for the vault server's /api/v1 routes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
)

// ErrRejected is returned when the server refuses a share link; the
// wrapped message is the server's reason.
var ErrRejected = errors.New("share link rejected")

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
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

type ShareRequest struct {
	CID        string     `json:"cid"`
	Key        string     `json:"key"`
	IV         []int      `json:"iv"`
	FileName   string     `json:"fileName,omitempty"`
	FileType   string     `json:"fileType,omitempty"`
	ShareType  string     `json:"shareType"`
	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
	CustomDays int        `json:"customDays,omitempty"`
	MaxViews   int        `json:"maxViews,omitempty"`
	Recipient  string     `json:"recipient,omitempty"`
}

type ShareResult struct {
	Token json.RawMessage `json:"token"`
	Link  string          `json:"link"`
}

// File is a decrypted download.
type File struct {
	Name string
	Type string
	Data []byte
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		if c.token == "" {
			return nil, fmt.Errorf("%w: no auth token configured", common.ErrorUnauthorized)
		}
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// check turns a non-2xx response into an error carrying the server's
// message.
func check(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &ae) == nil && ae.Error != "" {
		msg = ae.Error
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", common.ErrorUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrorValidation, msg)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, msg)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, auth bool) error {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, ct = bytes.NewReader(b), "application/json"
	}
	resp, err := c.do(ctx, method, path, body, ct, auth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := check(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Upload sends plaintext for the server to encrypt and store.
func (c *Client) Upload(ctx context.Context, data []byte, md cryptox.Metadata) (*UploadResult, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"fileName":   md.FileName,
		"fileType":   md.FileType,
		"recordType": md.RecordType,
		"patientId":  md.PatientID,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/api/v1/files"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/octet-stream", true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := check(resp); err != nil {
		return nil, err
	}
	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Share(ctx context.Context, req ShareRequest) (*ShareResult, error) {
	var out ShareResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/shares", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevokeShare(ctx context.Context, tokenID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/shares/"+url.PathEscape(tokenID), nil, nil, true)
}

func (c *Client) ListShares(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/shares", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenLink asks the server to open a share link and returns the plaintext.
// It spends a view when the link is token based.
func (c *Client) OpenLink(ctx context.Context, link string) (*File, error) {
	b, err := json.Marshal(map[string]string{"link": link})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/links/open", bytes.NewReader(b), "application/json", false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := check(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	f := &File{Type: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		f.Name = params["filename"]
	}
	return f, nil
}
