package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// imgurResponse is the subset of the Imgur API envelope we read.
type imgurResponse struct {
	Data struct {
		ID         string `json:"id"`
		Link       string `json:"link"`
		DeleteHash string `json:"deletehash"`
		Type       string `json:"type"`
	} `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// Imgur stores images anonymously on Imgur. The object key it returns is
// the delete hash, which is all that is needed to remove the image later.
type Imgur struct {
	baseURL  string
	clientID string
	client   *http.Client
}

func NewImgur(baseURL, clientID string) *Imgur {
	if baseURL == "" {
		baseURL = "https://api.imgur.com"
	}
	return &Imgur{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		clientID: clientID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Put uploads the image. Imgur chooses its own id, so key is ignored.
func (i *Imgur) Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error) {
	fileBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("image", base64.StdEncoding.EncodeToString(fileBytes)); err != nil {
		return nil, fmt.Errorf("write request body: %w", err)
	}
	if err := writer.WriteField("type", "base64"); err != nil {
		return nil, fmt.Errorf("write request body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("write request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/3/image", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+i.clientID)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out imgurResponse
	if err := i.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Data.Link == "" {
		return nil, fmt.Errorf("imgur upload failed: status %d", out.Status)
	}
	return &Object{Key: out.Data.DeleteHash, URL: out.Data.Link}, nil
}

func (i *Imgur) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, i.baseURL+"/3/image/"+key, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+i.clientID)

	var out imgurResponse
	if err := i.do(req, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("imgur delete failed: status %d", out.Status)
	}
	return nil
}

func (i *Imgur) do(req *http.Request, out *imgurResponse) error {
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("imgur request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
