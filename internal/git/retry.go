package git

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/retry"
)

// withRetry runs a remote operation under the client's retry policy.
func (c *Client) withRetry(ctx context.Context, op, name string, fn func() error) error {
	err := c.policy.Do(ctx, fn, retry.Hooks{
		Permanent: isPermanentGitError,
		OnRetry: func(n int, lastErr error) {
			slog.Warn("Retrying git operation",
				logfields.Operation(op),
				logfields.Name(name),
				slog.Int("retry", n),
				logfields.Error(lastErr))
		},
	})
	if err != nil && isPermanentGitError(err) {
		slog.Error("Git operation failed permanently", logfields.Operation(op), logfields.Name(name), logfields.Error(err))
	}
	return err
}
