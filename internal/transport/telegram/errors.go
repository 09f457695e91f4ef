package telegram

import (
	"errors"

	tele "gopkg.in/telebot.v4"
)

// IsBlocked reports whether the error means the recipient is structurally
// unreachable (blocked the bot, deleted their account, never started the
// chat). These are permanent: retrying cannot succeed.
func IsBlocked(err error) bool {
	return errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrNotStartedByUser) ||
		errors.Is(err, tele.ErrChatNotFound)
}

// IsBadRequest reports a malformed-request rejection (bad payload, bad
// parse mode, unsupported media). Not retryable, but also not a reason to
// drop the recipient.
func IsBadRequest(err error) bool {
	if IsBlocked(err) {
		return false
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 400
	}
	return false
}

// RetryAfter returns the flood-control cooldown hint in seconds, if any.
// Everything that is neither blocked nor a bad request counts as
// retryable: rate limiting, server-side errors, transient network
// failures.
func RetryAfter(err error) (int, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return flood.RetryAfter, true
	}
	return 0, false
}
