package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"linechat/internal/metrics"
)

// VisionConfig configures the Google Cloud Vision text detection client.
type VisionConfig struct {
	APIBase    string // e.g. "https://vision.googleapis.com/v1"
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Vision implements domain.TextExtractor with the Cloud Vision REST API.
type Vision struct {
	apiBase string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewVision(cfg VisionConfig) *Vision {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://vision.googleapis.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(60 * time.Second)
	}
	return &Vision{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

type visionRequest struct {
	Requests []visionAnnotateRequest `json:"requests"`
}

type visionAnnotateRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionImage struct {
	Content string `json:"content"` // base64
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionResponse struct {
	Responses []visionAnnotateResponse `json:"responses"`
}

type visionAnnotateResponse struct {
	TextAnnotations []visionTextAnnotation `json:"textAnnotations"`
	Error           *visionStatus          `json:"error,omitempty"`
}

type visionTextAnnotation struct {
	Locale      string `json:"locale,omitempty"`
	Description string `json:"description"`
}

type visionStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ExtractText runs text detection on image and returns the first annotation,
// which covers the full detected text of the image.
func (v *Vision) ExtractText(ctx context.Context, image []byte) (string, bool, error) {
	body, err := json.Marshal(visionRequest{
		Requests: []visionAnnotateRequest{{
			Image:    visionImage{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []visionFeature{{Type: "TEXT_DETECTION"}},
		}},
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal: %w", err)
	}

	endpoint := v.apiBase + "/images:annotate?key=" + url.QueryEscape(v.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.OCRRequests.Inc()
	start := time.Now()
	resp, err := v.client.Do(req)
	metrics.OCRLatency.ObserveSince(start)
	if err != nil {
		return "", false, fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, fmt.Errorf("vision %d: %s", resp.StatusCode, string(respBody))
	}

	var out visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode: %w", err)
	}
	if len(out.Responses) == 0 {
		return "", false, nil
	}

	r := out.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return "", false, fmt.Errorf("vision error %d: %s", r.Error.Code, r.Error.Message)
	}
	if len(r.TextAnnotations) == 0 {
		v.logger.Debug("vision found no text", "image_bytes", len(image))
		return "", false, nil
	}

	text := r.TextAnnotations[0].Description
	v.logger.Debug("vision text extracted", "locale", r.TextAnnotations[0].Locale, "text_len", len(text), "latency", time.Since(start))
	return text, text != "", nil
}
