package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medvault/internal/acl"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/tokens"
	"github.com/dmitrijs2005/medvault/internal/vault"
	"github.com/gin-gonic/gin"
)

// param reads a value from the query string, falling back to a header.
func param(c *gin.Context, query, header string) string {
	if v := c.Query(query); v != "" {
		return v
	}
	return c.GetHeader(header)
}

func (s *HTTPServer) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		s.writeError(c, fmt.Errorf("%w: read body: %v", common.ErrorValidation, err))
		return
	}
	if len(data) == 0 {
		s.writeError(c, fmt.Errorf("%w: empty upload", common.ErrorValidation))
		return
	}

	fileType := param(c, "fileType", "Content-Type")
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	md := cryptox.Metadata{
		FileName:   param(c, "fileName", "X-File-Name"),
		FileType:   fileType,
		RecordType: param(c, "recordType", "X-Record-Type"),
		PatientID:  param(c, "patientId", "X-Patient-Id"),
	}

	res, err := s.vault.Upload(c.Request.Context(), walletFrom(c), data, md)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *HTTPServer) downloadFile(c *gin.Context) {
	ciphertext, err := s.vault.Fetch(c.Request.Context(), c.Param("cid"), walletFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", ciphertext)
}

type shareRequest struct {
	CID        string     `json:"cid" binding:"required"`
	Key        string     `json:"key" binding:"required"`
	IV         []int      `json:"iv" binding:"required"`
	FileName   string     `json:"fileName"`
	FileType   string     `json:"fileType"`
	ShareType  string     `json:"shareType" binding:"required"`
	ValidFrom  *time.Time `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil"`
	CustomDays int        `json:"customDays"`
	MaxViews   int        `json:"maxViews"`
	Recipient  string     `json:"recipient"`
}

type shareResponse struct {
	Token *tokens.AccessToken `json:"token"`
	Link  string              `json:"link"`
}

func (s *HTTPServer) createShare(c *gin.Context) {
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}
	st, err := tokens.ParseShareType(req.ShareType)
	if err != nil {
		s.writeError(c, err)
		return
	}
	iv, err := tokens.IVFromInts(req.IV)
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}

	opts := tokens.CreateOptions{
		CustomDays: req.CustomDays,
		MaxViews:   req.MaxViews,
		Recipient:  req.Recipient,
	}
	if req.ValidFrom != nil {
		opts.ValidFrom = *req.ValidFrom
	}
	if req.ValidUntil != nil {
		opts.ValidUntil = *req.ValidUntil
	}

	sh, err := s.vault.Share(c.Request.Context(), walletFrom(c), vault.ShareRequest{
		CID:       req.CID,
		Key:       req.Key,
		IV:        iv,
		FileName:  req.FileName,
		FileType:  req.FileType,
		ShareType: st,
		Options:   opts,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shareResponse{Token: sh.Token, Link: sh.Link})
}

func (s *HTTPServer) listShares(c *gin.Context) {
	list, err := s.tokens.ListByCreator(c.Request.Context(), walletFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []*tokens.AccessToken{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *HTTPServer) listReceived(c *gin.Context) {
	list, err := s.tokens.ListByRecipient(c.Request.Context(), walletFrom(c), s.clock())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []*tokens.AccessToken{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *HTTPServer) revokeShare(c *gin.Context) {
	if err := s.vault.RevokeShare(c.Request.Context(), walletFrom(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// shareStatus describes a token without its key material.
type shareStatus struct {
	Valid     bool             `json:"valid"`
	Reason    string           `json:"reason,omitempty"`
	ShareType tokens.ShareType `json:"shareType,omitempty"`
	FileName  string           `json:"fileName,omitempty"`
	FileType  string           `json:"fileType,omitempty"`
	MaxViews  int              `json:"maxViews,omitempty"`
	ViewCount int              `json:"viewCount"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

func (s *HTTPServer) validateShare(c *gin.Context) {
	res, err := s.tokens.Validate(c.Request.Context(), c.Param("id"), s.clock())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if res.Token == nil {
		s.writeError(c, &vault.RejectedError{Result: res})
		return
	}

	t := res.Token
	out := shareStatus{
		Valid:     res.Valid,
		Reason:    res.Reason,
		ShareType: t.ShareType(),
		FileName:  t.FileName,
		FileType:  t.FileType,
		MaxViews:  t.MaxViews,
		ViewCount: t.ViewCount,
	}
	if at, ok := t.ExpiresAt(); ok {
		out.ExpiresAt = &at
	}
	c.JSON(http.StatusOK, out)
}

func (s *HTTPServer) writeOpened(c *gin.Context, o *vault.Opened) {
	fileType, fileName := "application/octet-stream", "file"
	if o.Metadata != nil {
		if o.Metadata.FileType != "" {
			fileType = o.Metadata.FileType
		}
		if o.Metadata.FileName != "" {
			fileName = o.Metadata.FileName
		}
	}
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": fileName}))
	if o.Token != nil {
		c.Header("X-Views-Remaining", viewsRemaining(o.Token))
	}
	c.Data(http.StatusOK, fileType, o.Data)
}

func viewsRemaining(t *tokens.AccessToken) string {
	if t.MaxViews == 0 {
		return "unlimited"
	}
	return strconv.Itoa(max(t.MaxViews-t.ViewCount, 0))
}

func (s *HTTPServer) openShare(c *gin.Context) {
	o, err := s.vault.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOpened(c, o)
}

func (s *HTTPServer) redeemShare(c *gin.Context) {
	t, err := s.vault.Redeem(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type openLinkRequest struct {
	Link string `json:"link" binding:"required"`
}

func (s *HTTPServer) openLink(c *gin.Context) {
	var req openLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}
	l, err := vault.ParseLink(req.Link)
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}
	o, err := s.vault.OpenLink(c.Request.Context(), l)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeOpened(c, o)
}

type grantRequest struct {
	Wallet        string `json:"wallet" binding:"required"`
	AccessType    string `json:"accessType" binding:"required"`
	DurationHours int    `json:"durationHours"`
}

func (s *HTTPServer) grantAccess(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", common.ErrorValidation, err))
		return
	}
	e, err := s.acl.GrantAccess(c.Request.Context(), c.Param("cid"), req.Wallet,
		acl.AccessType(req.AccessType), walletFrom(c), req.DurationHours)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *HTTPServer) revokeAccess(c *gin.Context) {
	err := s.acl.RevokeAccess(c.Request.Context(), c.Param("cid"), c.Param("wallet"), walletFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// verifyAccess answers for the caller's own wallet.
func (s *HTTPServer) verifyAccess(c *gin.Context) {
	d, err := s.vault.VerifyAccess(c.Request.Context(), c.Param("cid"), walletFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
