package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bulksend/internal/dispatch"
	logx "bulksend/pkg/logx"
)

const defaultHTTPTimeout = 60 * time.Second

type HTTPConfig struct {
	// BaseURL of the messaging backend API, e.g. http://localhost:5000/api.
	BaseURL string
	Timeout time.Duration
}

// HTTP posts each task to the backend's /send endpoint as a multipart form.
type HTTP struct {
	cfg  HTTPConfig
	base string
	log  logx.Logger
	http *http.Client
}

func NewHTTP(cfg HTTPConfig, log logx.Logger) (*HTTP, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("sender.http.base_url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTP{
		cfg:  cfg,
		base: base,
		log:  log.With(logx.String("driver", "http")),
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (h *HTTP) Send(ctx context.Context, t dispatch.SendTask) error {
	body, contentType, err := encodeForm(t)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/send", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.Success {
		msg := out.Message
		if msg == "" {
			msg = out.Error
		}
		if msg != "" {
			return fmt.Errorf("backend send failed: %s (http=%d)", msg, resp.StatusCode)
		}
		return fmt.Errorf("backend send failed: http=%d", resp.StatusCode)
	}
	h.log.Debug("sent", logx.String("recipient", t.Recipient), logx.String("profile", t.ProfileID), logx.String("reply", out.Message))
	return nil
}

func (h *HTTP) Close() error {
	h.http.CloseIdleConnections()
	return nil
}

func encodeForm(t dispatch.SendTask) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"profile", t.ProfileID},
		{"phone", t.Recipient},
		{"message", t.Payload.Text},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := attachFile(w, "image", t.Payload.ImageRef); err != nil {
		return nil, "", err
	}
	if err := attachFile(w, "audio", t.Payload.AudioRef); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func attachFile(w *multipart.Writer, field, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s attachment: %w", field, err)
	}
	defer f.Close()
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s attachment: %w", field, err)
	}
	return nil
}
