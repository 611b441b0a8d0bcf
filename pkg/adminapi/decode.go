package adminapi

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// decodeJSON reads a JSON request body into dst, rejecting bodies over 1 MiB.
func decodeJSON(r *http.Request, dst any) error {
	const maxBody = 1 << 20
	body := http.MaxBytesReader(nil, r.Body, maxBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// generateAPIKey produces a high-entropy, URL-safe bearer token for a newly
// provisioned account. The raw value is returned to the caller exactly once;
// only its digest (see apiKeyHash) is persisted.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
