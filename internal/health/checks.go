package health

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/tktauth/internal/secrets"
)

// ProviderCheck reports whether the secrets provider backing the ticket
// factory is reachable. A broken provider means key rotation and
// reloads would fail, so it degrades readiness.
func ProviderCheck(provider secrets.Provider) CheckFunc {
	return func(ctx context.Context) Check {
		if provider == nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: "secrets provider is not configured",
			}
		}

		if err := provider.HealthCheck(ctx); err != nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
		}

		return Check{
			Status:  StatusHealthy,
			Message: string(provider.Type()),
		}
	}
}

// RedisCheck pings the rate limit store. Rate limiting fails open when
// Redis is down, so a failed ping reports degraded rather than
// unhealthy: the service still authenticates requests.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) Check {
		if client == nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: "redis client is not configured",
			}
		}

		if err := client.Ping(ctx).Err(); err != nil {
			return Check{
				Status:  StatusDegraded,
				Message: err.Error(),
			}
		}

		return Check{Status: StatusHealthy}
	}
}
