package blob

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cloudinary stores blobs as "raw" resources addressed by public_id.
type Cloudinary struct {
	apiKey       string
	apiSecret    string
	apiBase      string
	deliveryBase string
	httpClient   *http.Client
	now          func() time.Time
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Bytes     int64  `json:"bytes"`
	Result    string `json:"result"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinary(rawURL string) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, fmt.Errorf("invalid cloudinary scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, fmt.Errorf("missing cloudinary api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, fmt.Errorf("invalid cloudinary credentials")
	}

	return &Cloudinary{
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		apiBase:      fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/raw", cloudName),
		deliveryBase: fmt.Sprintf("https://res.cloudinary.com/%s/raw/upload", cloudName),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		now: time.Now,
	}, nil
}

func (c *Cloudinary) Put(ctx context.Context, key string, r io.Reader, _ string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, fmt.Errorf("blob key is required")
	}

	params := c.signedParams(map[string]string{"public_id": key})

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		for _, name := range []string{"public_id", "timestamp", "api_key", "signature"} {
			if err := writer.WriteField(name, params[name]); err != nil {
				_ = pw.CloseWithError(fmt.Errorf("write %s field: %w", name, err))
				return
			}
		}
		part, err := writer.CreateFormFile("file", key)
		if err != nil {
			_ = pw.CloseWithError(fmt.Errorf("create file part: %w", err))
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("copy file part: %w", err))
			return
		}
		if err := writer.Close(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("close multipart writer: %w", err))
			return
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/upload", pr)
	if err != nil {
		_ = pr.Close()
		return 0, fmt.Errorf("build cloudinary upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	parsed, err := c.do(req)
	if err != nil {
		_ = pr.Close()
		return 0, fmt.Errorf("cloudinary upload: %w", err)
	}
	return parsed.Bytes, nil
}

func (c *Cloudinary) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.deliveryBase+"/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("build cloudinary fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary fetch request failed: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("cloudinary fetch failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Cloudinary) Delete(ctx context.Context, key string) error {
	params := c.signedParams(map[string]string{"public_id": key})
	form := url.Values{}
	for name, value := range params {
		form.Set(name, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/destroy", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build cloudinary destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parsed, err := c.do(req)
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if parsed.Result != "ok" && parsed.Result != "not found" {
		return fmt.Errorf("cloudinary destroy: unexpected result %q", parsed.Result)
	}
	return nil
}

func (c *Cloudinary) do(req *http.Request) (cloudinaryResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cloudinaryResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return cloudinaryResponse{}, fmt.Errorf("read response: %w", err)
	}

	var parsed cloudinaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return cloudinaryResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return cloudinaryResponse{}, fmt.Errorf("failed: %s", parsed.Error.Message)
		}
		return cloudinaryResponse{}, fmt.Errorf("failed with status %d", resp.StatusCode)
	}
	return parsed, nil
}

// signedParams adds timestamp, api_key and the SHA-1 signature over the
// alphabetically sorted parameters.
func (c *Cloudinary) signedParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+3)
	for name, value := range params {
		out[name] = value
	}
	out["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	out["signature"] = c.sign(out)
	out["api_key"] = c.apiKey
	return out
}

func (c *Cloudinary) sign(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+params[name])
	}

	h := sha1.New() // #nosec G401: cloudinary API signature requires SHA-1.
	_, _ = h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(h.Sum(nil))
}
