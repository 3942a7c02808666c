// Package botcheck verifies anti-bot challenge tokens against the
// provider's verification endpoint.
package botcheck

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	dErrors "sportello/pkg/domain-errors"
)

// minScore is the lowest risk score still treated as human.
const minScore = 0.5

// Verifier calls the remote verification endpoint. The zero value is
// not usable; construct with New.
type Verifier struct {
	verifyURL string
	secret    string
	client    *http.Client
	logger    *slog.Logger
}

func New(verifyURL, secret string, logger *slog.Logger) *Verifier {
	return &Verifier{
		verifyURL: verifyURL,
		secret:    secret,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks a client token. Any transport or provider failure is
// treated as a bot: the endpoint being unreachable must not open the
// door to unverified traffic.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return dErrors.New(dErrors.CodeBadRequest, "Verifica di sicurezza mancante. Riprovare.")
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build bot check request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error("bot check endpoint unreachable", slog.Any("error", err))
		return dErrors.New(dErrors.CodeBadRequest, "Verifica di sicurezza non riuscita. Riprovare.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Error("bot check endpoint returned error status", slog.Int("status", resp.StatusCode))
		return dErrors.New(dErrors.CodeBadRequest, "Verifica di sicurezza non riuscita. Riprovare.")
	}

	var result verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		v.logger.Error("bot check response malformed", slog.Any("error", err))
		return dErrors.New(dErrors.CodeBadRequest, "Verifica di sicurezza non riuscita. Riprovare.")
	}

	if !result.Success {
		v.logger.Warn("bot check rejected token", slog.String("codes", strings.Join(result.ErrorCodes, ",")))
		return dErrors.New(dErrors.CodeBadRequest, "Verifica di sicurezza non superata.")
	}
	if result.Score < minScore {
		v.logger.Warn("bot check score below threshold", slog.Float64("score", result.Score))
		return dErrors.New(dErrors.CodeBadRequest, "Verifica di sicurezza non superata.")
	}
	return nil
}
