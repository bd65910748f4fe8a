package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"ms-raffle/internal/models"
)

// GetM2MToken retrieves a client-credentials token for calls to sibling
// services (media upload). Callers should go through an M2MTokenSource so
// tokens are reused until they expire.
func GetM2MToken(tokenURL, clientID, clientSecret string, client *http.Client) (*models.M2MTokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)

	req, err := http.NewRequest(http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("Error closing token response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Printf("Token endpoint response body: %s", string(bodyBytes))
		return nil, fmt.Errorf("failed to get token, status: %s", resp.Status)
	}

	var tokenResp models.M2MTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// M2MTokenSource hands out a valid M2M token, hitting the token endpoint only
// when the cached one is missing or about to expire.
type M2MTokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Client       *http.Client
	Cache        *RedisTokenCache
}

func (s *M2MTokenSource) Token(ctx context.Context) (string, error) {
	if s.Cache != nil {
		cached, err := s.Cache.GetToken(ctx)
		if err != nil {
			log.Printf("M2M token cache read failed, fetching fresh: %v", err)
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	resp, err := GetM2MToken(s.TokenURL, s.ClientID, s.ClientSecret, s.Client)
	if err != nil {
		return "", err
	}

	if s.Cache != nil {
		if err := s.Cache.SetToken(ctx, resp.AccessToken, resp.ExpiresIn); err != nil {
			log.Printf("M2M token cache write failed: %v", err)
		}
	}
	return resp.AccessToken, nil
}
