package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// FalOptions configures the fal.ai queue client.
type FalOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	ImageSize    int
}

// FalGenerator renders through the fal.ai async queue: submit the request,
// poll its status URL until the job settles, fetch the result and download
// the image bytes.
type FalGenerator struct {
	apiKey       string
	model        string
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	imageSize    int
}

const (
	falDefaultBaseURL      = "https://queue.fal.run"
	falDefaultModel        = "fal-ai/bytedance/seedream/v4/text-to-image"
	falDefaultPollInterval = 2 * time.Second
	falDefaultImageSize    = 1024
)

type falSubmitRequest struct {
	Prompt              string       `json:"prompt"`
	ImageSize           falImageSize `json:"image_size"`
	NumImages           int          `json:"num_images"`
	EnableSafetyChecker bool         `json:"enable_safety_checker"`
	SyncMode            bool         `json:"sync_mode"`
}

type falImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type falQueueStatus struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falResult struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

// NewFalGenerator validates the options and returns a generator.
func NewFalGenerator(opts FalOptions) (*FalGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("fal api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = falDefaultBaseURL
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = falDefaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = falDefaultPollInterval
	}
	imageSize := opts.ImageSize
	if imageSize <= 0 {
		imageSize = falDefaultImageSize
	}
	return &FalGenerator{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		client:       client,
		pollInterval: pollInterval,
		imageSize:    imageSize,
	}, nil
}

// Render submits the prompt and blocks until the queue settles or ctx is
// done.
func (f *FalGenerator) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	size := req.Size
	if size <= 0 {
		size = f.imageSize
	}
	status, err := f.submit(ctx, req.Prompt, size)
	if err != nil {
		return nil, err
	}
	responseURL, err := f.awaitCompletion(ctx, status)
	if err != nil {
		return nil, err
	}
	imageURL, mime, err := f.fetchResult(ctx, responseURL)
	if err != nil {
		return nil, err
	}
	data, err := f.download(ctx, imageURL)
	if err != nil {
		// The render itself succeeded; hand back the hosted URL and
		// let the caller decide whether that is enough.
		return &RenderResult{URL: imageURL, MIME: mime}, nil
	}
	return &RenderResult{URL: imageURL, Data: data, MIME: mime}, nil
}

func (f *FalGenerator) submit(ctx context.Context, prompt string, size int) (*falQueueStatus, error) {
	payload := falSubmitRequest{
		Prompt:              prompt,
		ImageSize:           falImageSize{Width: size, Height: size},
		NumImages:           1,
		EnableSafetyChecker: true,
		SyncMode:            false,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode fal request: %w", err)
	}
	endpoint := f.baseURL + "/" + f.model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+f.apiKey)
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fal submit status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	var status falQueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode fal queue response: %w", err)
	}
	if status.StatusURL == "" || status.ResponseURL == "" {
		return nil, fmt.Errorf("%w: fal queue response missing urls", domain.ErrProviderFailure)
	}
	return &status, nil
}

func (f *FalGenerator) awaitCompletion(ctx context.Context, status *falQueueStatus) (string, error) {
	for {
		current, err := f.pollStatus(ctx, status.StatusURL)
		if err != nil {
			return "", err
		}
		switch current {
		case "COMPLETED":
			return status.ResponseURL, nil
		case "IN_QUEUE", "IN_PROGRESS":
		default:
			return "", fmt.Errorf("%w: fal request %s ended with status %s", domain.ErrProviderFailure, status.RequestID, current)
		}
		select {
		case <-time.After(f.pollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (f *FalGenerator) pollStatus(ctx context.Context, statusURL string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Key "+f.apiKey)
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: poll: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: fal status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	var status falQueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode fal status: %w", err)
	}
	return status.Status, nil
}

func (f *FalGenerator) fetchResult(ctx context.Context, responseURL string) (string, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, responseURL, nil)
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Authorization", "Key "+f.apiKey)
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("%w: fetch result: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("%w: fal result status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	var result falResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", fmt.Errorf("decode fal result: %w", err)
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return "", "", fmt.Errorf("%w: no images in fal result", domain.ErrProviderFailure)
	}
	mime := result.Images[0].ContentType
	if mime == "" {
		mime = "image/png"
	}
	return result.Images[0].URL, mime, nil
}

func (f *FalGenerator) download(ctx context.Context, imageURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var _ Generator = (*FalGenerator)(nil)
