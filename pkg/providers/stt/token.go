package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TokenIssuer fetches short-lived realtime credentials from AssemblyAI.
// The permanent API key never travels to the realtime channel itself.
type TokenIssuer struct {
	apiKey string
	url    string
	// ExpiresIn is the requested token lifetime in seconds.
	ExpiresIn int
}

func NewTokenIssuer(apiKey string) *TokenIssuer {
	return &TokenIssuer{
		apiKey:    apiKey,
		url:       "https://api.assemblyai.com/v2/realtime/token",
		ExpiresIn: 3600,
	}
}

// NewTokenIssuerURL points the issuer at a custom endpoint, e.g. a
// backend proxy that holds the API key server-side.
func NewTokenIssuerURL(apiKey, url string) *TokenIssuer {
	t := NewTokenIssuer(apiKey)
	t.url = url
	return t
}

func (t *TokenIssuer) IssueToken(ctx context.Context) (string, error) {
	payload := map[string]interface{}{
		"expires_in": t.ExpiresIn,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", fmt.Errorf("token endpoint returned no token: %s", result.Error)
	}
	return result.Token, nil
}
