package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/unicode/norm"

	"github.com/veldt/imagegate/internal/config"
)

// ErrGenerationFailed covers every upstream failure mode: non-success status,
// missing image reference, network error, malformed payload. Raw upstream
// errors never reach the HTTP layer.
var ErrGenerationFailed = errors.New("failed to generate / parse response")

const (
	imageWidth     = 512
	imageHeight    = 768
	samplerName    = "DPM++ 2M Karras"
	samplingSteps  = 28
	guidanceScale  = 7.0
	negativePrompt = "lowres, bad anatomy, bad hands, text, error, missing fingers, " +
		"extra digit, fewer digits, cropped, worst quality, low quality, " +
		"normal quality, jpeg artifacts, signature, watermark, username, blurry"
)

// responseSchema pins the upstream response shape before field extraction.
const responseSchema = `{
	"type": "object",
	"required": ["images"],
	"properties": {
		"images": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["url"],
				"properties": {
					"url": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// imageUploader re-hosts image bytes and returns the public URL.
type imageUploader interface {
	PutImage(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type generationPayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Sampler        string  `json:"sampler"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           uint32  `json:"seed"`
	Model          string  `json:"model"`
}

type generationResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// GenerationService proxies prompt requests to the external image-generation
// backend and turns the result into a public image URL.
type GenerationService struct {
	config         *config.Config
	logger         *logrus.Logger
	httpClient     *http.Client
	downloadClient *http.Client
	uploader       imageUploader
	schema         *gojsonschema.Schema
}

func NewGenerationService(cfg *config.Config, logger *logrus.Logger, uploader imageUploader) (*GenerationService, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile response schema: %w", err)
	}

	if cfg.Generation.URLStrategy == "rehost" && uploader == nil {
		return nil, errors.New("rehost strategy requires object storage")
	}

	return &GenerationService{
		config:         cfg,
		logger:         logger,
		httpClient:     &http.Client{Timeout: cfg.Generation.Timeout},
		downloadClient: &http.Client{Timeout: cfg.Generation.DownloadTimeout},
		uploader:       uploader,
		schema:         schema,
	}, nil
}

// Generate submits promptText to the backend and returns a public image URL.
// With the rehost strategy the image bytes are copied into object storage so
// the returned link outlives the upstream CDN URL.
func (s *GenerationService) Generate(ctx context.Context, promptText string) (string, error) {
	seed, err := randomSeed()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	payload := generationPayload{
		Prompt:         normalizePrompt(promptText),
		NegativePrompt: negativePrompt,
		Width:          imageWidth,
		Height:         imageHeight,
		Sampler:        samplerName,
		Steps:          samplingSteps,
		CFGScale:       guidanceScale,
		Seed:           seed,
		Model:          s.config.Generation.ModelType,
	}

	imageURL, err := s.callBackend(ctx, payload)
	if err != nil {
		s.logger.WithError(err).Error("Generation backend call failed")
		return "", err
	}

	if s.config.Generation.URLStrategy != "rehost" {
		return imageURL, nil
	}

	publicURL, err := s.rehost(ctx, imageURL)
	if err != nil {
		s.logger.WithError(err).Error("Image re-hosting failed")
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return publicURL, nil
}

func (s *GenerationService) callBackend(ctx context.Context, payload generationPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Generation.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Generation.SessionCookie != "" {
		req.Header.Set("Cookie", "session="+s.config.Generation.SessionCookie)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: backend returned status %d", ErrGenerationFailed, resp.StatusCode)
	}

	validation, err := s.schema.Validate(gojsonschema.NewBytesLoader(respBody))
	if err != nil || !validation.Valid() {
		return "", fmt.Errorf("%w: unexpected response shape", ErrGenerationFailed)
	}

	var parsed generationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	s.logger.WithFields(logrus.Fields{
		"seed":    payload.Seed,
		"model":   payload.Model,
		"latency": time.Since(start),
	}).Info("Image generated")

	return parsed.Images[0].URL, nil
}

func (s *GenerationService) rehost(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.downloadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	imageBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image bytes: %w", err)
	}

	key := fmt.Sprintf("images/%d.jpeg", time.Now().UnixNano())
	return s.uploader.PutImage(ctx, key, imageBytes, "image/jpeg")
}

func randomSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to draw random seed: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func normalizePrompt(promptText string) string {
	normalized := norm.NFC.String(promptText)
	return strings.Join(strings.Fields(normalized), " ")
}
