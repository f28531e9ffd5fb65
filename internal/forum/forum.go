package forum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"radar-engine/internal/domain"
)

// Searcher returns posts matching keyword in subreddit created at or after since.
type Searcher interface {
	Search(ctx context.Context, keyword, subreddit string, since time.Time) ([]domain.Post, error)
}

// Replier posts a top-level reply and returns the new comment id.
type Replier interface {
	SubmitReply(ctx context.Context, postID, text string) (commentID string, err error)
}

type Client interface {
	Searcher
	Replier
}

// RateLimitError is the forum telling us to slow down.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return e.Op + ": rate limited"
}

// ConflictError means the target no longer accepts replies (locked, archived,
// deleted). Retrying cannot help.
type ConflictError struct {
	PostID string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("post %s does not accept replies: %s", e.PostID, e.Reason)
}

func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsRetryable reports whether another attempt of the same call may succeed.
func IsRetryable(err error) bool {
	if err == nil || IsConflict(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := AsRateLimit(err); ok {
		return true
	}
	if domain.IsTransient(err) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
