package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ms-raffle/internal/logger"
)

// TokenSource hands out a bearer token for calls to the media service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Uploader pushes payment-proof images to the media service and returns the
// stored URL.
type Uploader struct {
	BaseURL string
	Tokens  TokenSource
	Client  *http.Client
	Logger  *logger.Logger
}

func NewUploader(baseURL string, tokens TokenSource, client *http.Client, log *logger.Logger) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		Client:  client,
		Logger:  log,
	}
}

type uploadRequest struct {
	OwnerID  string `json:"owner_id"`
	RaffleID string `json:"raffle_id"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload sends a base64-encoded proof image and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, userID, raffleID, content string) (string, error) {
	token, err := u.Tokens.Token(ctx)
	if err != nil {
		u.Logger.Error("MEDIA", fmt.Sprintf("Failed to get M2M token: %v", err))
		return "", fmt.Errorf("failed to get media token: %w", err)
	}

	body, err := json.Marshal(uploadRequest{
		OwnerID:  userID,
		RaffleID: raffleID,
		Kind:     "payment_proof",
		Content:  content,
	})
	if err != nil {
		return "", err
	}

	url := u.BaseURL + "/internal/v1/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		u.Logger.Error("MEDIA", fmt.Sprintf("Media service error: %v", err))
		return "", fmt.Errorf("media service error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			u.Logger.Error("MEDIA", fmt.Sprintf("Failed to close media response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		u.Logger.Error("MEDIA", fmt.Sprintf("Media service returned status: %d", resp.StatusCode))
		return "", fmt.Errorf("media service returned status: %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode media response: %w", err)
	}

	u.Logger.Info("MEDIA", fmt.Sprintf("Proof uploaded for raffle %s: %s", raffleID, out.URL))
	return out.URL, nil
}
