package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/bnema/chatshell/internal/domain"
)

const maxUploadReplyBytes = 64 << 10

// UploadImage posts the image as multipart form data. The returned id can be attached to a
// message.
func (c *Client) UploadImage(ctx context.Context, r io.Reader, filename string) (domain.UploadedImage, error) {
	if c.cfg.UploadURL == "" {
		return domain.UploadedImage{}, errors.New("upload url is required")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return domain.UploadedImage{}, fmt.Errorf("create upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.UploadedImage{}, fmt.Errorf("read upload %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return domain.UploadedImage{}, fmt.Errorf("close upload form: %w", err)
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, &body)
	if err != nil {
		return domain.UploadedImage{}, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return domain.UploadedImage{}, fmt.Errorf("upload image: %w: %w", domain.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.UploadedImage{}, fmt.Errorf("upload image: %w: status %d", domain.ErrAuth, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return domain.UploadedImage{}, fmt.Errorf("upload image: %w: status %d", domain.ErrNetwork, resp.StatusCode)
	}

	var reply uploadReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUploadReplyBytes)).Decode(&reply); err != nil {
		return domain.UploadedImage{}, fmt.Errorf("decode upload response: %w", err)
	}
	if reply.ImageID == "" {
		return domain.UploadedImage{}, errors.New("upload response missing image id")
	}

	c.log.Debug().Str("image_id", reply.ImageID).Str("filename", filename).Msg("image uploaded")
	return domain.UploadedImage{ID: reply.ImageID, Filename: filename}, nil
}
