package common

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// PostJSON sends a POST request with a JSON body and optional bearer token.
// It returns the raw response body and status code; callers decide how to
// decode, since gateway error bodies differ from success bodies.
func PostJSON(ctx context.Context, client *http.Client, url, bearerToken string, payload interface{}) ([]byte, int, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// GetBasicAuth sends a GET request with basic-auth credentials and returns
// the raw response body and status code.
func GetBasicAuth(ctx context.Context, client *http.Client, url, username, password string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.SetBasicAuth(username, password)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
