// Package directory resolves security recipients to device tokens and prunes
// tokens the push platform has declared permanently invalid.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

// ErrNoStore is returned when the client was built without a RecipientStore.
var ErrNoStore = errors.New("directory: no recipient store configured")

// RecipientStore is the user directory.
type RecipientStore interface {
	// FindRecipients returns records with the given role and approval flag.
	FindRecipients(ctx context.Context, role string, approved bool) ([]models.Recipient, error)
	// ClearToken removes the contact token from every record holding exactly
	// this token value and returns the number of records updated.
	ClearToken(ctx context.Context, token string) (int, error)
}

// Client queries the directory with a per-call timeout.
type Client struct {
	store   RecipientStore
	logger  *zap.Logger
	timeout time.Duration
}

// NewClient creates a directory client. A zero timeout disables the per-call deadline.
func NewClient(store RecipientStore, logger *zap.Logger, timeout time.Duration) *Client {
	return &Client{
		store:   store,
		logger:  logger.Named("directory"),
		timeout: timeout,
	}
}

// FindEligibleSecurityTokens returns the normalized token set of approved
// security users, in first-seen order.
func (c *Client) FindEligibleSecurityTokens(ctx context.Context) ([]string, error) {
	if c.store == nil {
		return nil, ErrNoStore
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	recipients, err := c.store.FindRecipients(callCtx, constants.RoleSecurity, true)
	if err != nil {
		return nil, fmt.Errorf("query security recipients: %w", err)
	}

	raw := make([]string, 0, len(recipients))
	for _, r := range recipients {
		// Re-checked; stores may return records outside the filter.
		if r.Role != constants.RoleSecurity || !r.Approved {
			continue
		}
		if r.FCMToken != "" {
			raw = append(raw, r.FCMToken)
		}
	}

	tokens := NormalizeTokens(raw)
	c.logger.Debug("Resolved security tokens",
		zap.Int("recipients", len(recipients)),
		zap.Int("tokens", len(tokens)),
		zap.Int("discarded", len(raw)-len(tokens)),
	)
	return tokens, nil
}

// NormalizeTokens trims, drops implausibly short values and removes
// duplicates, keeping the first occurrence's position.
func NormalizeTokens(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if len(t) <= constants.MinTokenLength {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens
}

// Prune clears each permanently invalid token from the directory, matching the
// exact token value. It returns the number of tokens for which at least one
// record was cleared. Failures are logged and skipped.
func (c *Client) Prune(ctx context.Context, invalidTokens []string) int {
	if c.store == nil || len(invalidTokens) == 0 {
		return 0
	}

	pruned := 0
	seen := make(map[string]struct{}, len(invalidTokens))
	for _, token := range invalidTokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}

		callCtx, cancel := c.withTimeout(ctx)
		n, err := c.store.ClearToken(callCtx, token)
		cancel()
		if err != nil {
			c.logger.Warn("Failed to prune invalid token",
				zap.String("token", RedactToken(token)),
				zap.Error(err),
			)
			continue
		}
		if n > 0 {
			pruned++
		}
		c.logger.Info("Pruned invalid token",
			zap.String("token", RedactToken(token)),
			zap.Int("records", n),
		)
	}
	return pruned
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// RedactToken shortens a device token for logging.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "…"
}
