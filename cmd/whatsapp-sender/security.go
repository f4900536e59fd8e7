package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	webhookSignatureHeader = "X-Webhook-Hmac"
	webhookAlgorithmHeader = "X-Webhook-Hmac-Algorithm"
	webhookTimestampHeader = "X-Webhook-Timestamp"
)

// verifySignature reads the request body and checks the WAHA HMAC-SHA512
// signature over it. The body is restored on r so it can be decoded again.
// Without a secret only non-production deployments accept unsigned calls.
func verifySignature(r *http.Request, secretKey string, production bool) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if production {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := strings.TrimSpace(r.Header.Get(webhookSignatureHeader))
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing signature header: %s", webhookSignatureHeader)
	}

	if algo := r.Header.Get(webhookAlgorithmHeader); algo != "" && !strings.EqualFold(algo, "sha512") {
		return nil, fmt.Errorf("unsupported signature algorithm: %s", algo)
	}

	if r.Header.Get(webhookTimestampHeader) == "" {
		return nil, fmt.Errorf("missing %s header for WAHA webhook", webhookTimestampHeader)
	}

	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	computedSignatureHex := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computedSignatureHex), []byte(strings.ToLower(signatureHeader))) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}
