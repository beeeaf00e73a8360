package warehouse

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/api/googleapi"
)

// Transient reports whether a load failure is worth retrying. Everything not
// recognized here is treated as permanent and surfaces immediately; a
// malformed row never becomes valid by retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions. Class 53: insufficient resources.
		// Class 57: operator intervention (shutdown, crash). 40001 is a
		// serialization failure, safe to replay an idempotent upsert.
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"),
			pgErr.Code == "40001":
			return true
		}
		return false
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case 429, 500, 502, 503:
			return true
		}
		// BigQuery reports rate limiting as 403 with a reason item rather
		// than a 429 status.
		for _, item := range gErr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "jobRateLimitExceeded", "backendError":
				return true
			}
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
