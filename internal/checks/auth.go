package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	queryFailedLogins24h = `SELECT count(*) FROM login_history WHERE success = false AND created_at >= now() - interval '24 hours'`
	queryTotalUsers      = `SELECT count(*) FROM users`
	queryTwoFactorUsers  = `SELECT count(*) FROM users WHERE two_factor_enabled = true`

	minSecretLength     = 32
	sessionKeyPattern   = "sess:*"
	failedLoginWarnings = 100
	minTwoFactorPercent = 30
)

type AuthProbe struct {
	info
	jwtSecret    string
	cache        CacheClient
	db           Querier
	checkTimeout time.Duration
}

func NewAuthProbe(jwtSecret string, cache CacheClient, db Querier, checkTimeout time.Duration) *AuthProbe {
	return &AuthProbe{
		info: info{
			name:        "auth",
			displayName: "Authentication System",
			description: "JWT signing, session store, login failures and 2FA adoption",
			checkNames:  []string{"JWT Configuration", "Session Store", "Failed Login Attempts", "Two-Factor Authentication"},
		},
		jwtSecret:    jwtSecret,
		cache:        cache,
		db:           db,
		checkTimeout: checkTimeout,
	}
}

func (p *AuthProbe) Run(ctx context.Context) *core.ModuleResult {
	rec := newRecorder(p.info, p.checkTimeout)

	rec.Observe(ctx, "JWT Configuration", core.SeverityCritical, func(ctx context.Context) (core.CheckOutcome, error) {
		if p.jwtSecret == "" {
			rec.Error("JWT_SECRET not configured")
			return Fail(core.SeverityCritical, "JWT secret is not set"), nil
		}
		if err := verifySecret(p.jwtSecret); err != nil {
			rec.Error("JWT signing failed")
			return Fail(core.SeverityCritical, "Token round trip failed: %v", err), nil
		}
		if len(p.jwtSecret) < minSecretLength {
			rec.Warning("JWT secret is too short")
			rec.Recommend(fmt.Sprintf("Use a JWT secret of at least %d characters", minSecretLength))
			return Warn(core.SeverityHigh, "Secret length %d is below %d", len(p.jwtSecret), minSecretLength), nil
		}
		return Pass("JWT properly configured"), nil
	})

	rec.Observe(ctx, "Session Store", core.SeverityHigh, func(ctx context.Context) (core.CheckOutcome, error) {
		if p.cache == nil {
			return Warn(core.SeverityMedium, "Session store not configured"), nil
		}
		n, err := p.cache.CountKeys(ctx, sessionKeyPattern)
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("session store unavailable: %w", err)
		}
		rec.Metric("active_sessions", core.Int(n))
		return Pass("%d active sessions", n), nil
	})

	rec.Observe(ctx, "Failed Login Attempts", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var failed int64
		if err := p.db.GetContext(ctx, &failed, queryFailedLogins24h); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check login history: %w", err)
		}
		rec.Metric("failed_logins_24h", core.Int(failed))
		if failed > failedLoginWarnings {
			rec.Warning("High number of failed login attempts")
			rec.Recommend("Review failed login sources for brute force attempts")
			return Warn(core.SeverityMedium, "%d failed logins in 24h", failed), nil
		}
		return Pass("%d failed logins in 24h", failed), nil
	})

	rec.Observe(ctx, "Two-Factor Authentication", core.SeverityLow, func(ctx context.Context) (core.CheckOutcome, error) {
		var total, enabled int64
		if err := p.db.GetContext(ctx, &total, queryTotalUsers); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check 2FA adoption: %w", err)
		}
		if err := p.db.GetContext(ctx, &enabled, queryTwoFactorUsers); err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not check 2FA adoption: %w", err)
		}
		var pct int64
		if total > 0 {
			pct = enabled * 100 / total
		}
		rec.Metric("two_factor_percent", core.Int(pct))
		rec.Metric("two_factor_users", core.Int(enabled))
		if total > 0 && pct < minTwoFactorPercent {
			rec.Recommend("Encourage users to enable two-factor authentication")
			return Warn(core.SeverityLow, "Only %d%% of users use 2FA", pct), nil
		}
		return Pass("%d%% of users use 2FA", pct), nil
	})

	return rec.Result()
}

// verifySecret signs and parses a short-lived token with the secret.
func verifySecret(secret string) error {
	claims := jwt.RegisteredClaims{
		Subject:   "health-check",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return err
	}
	parsed, err := jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("token invalid")
	}
	return nil
}
