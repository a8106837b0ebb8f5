package checks

import (
	"context"
	"fmt"

	"github.com/leozw/health-guardian/internal/core"
)

// observeProviderKey records the "<label> API Configuration" check and
// reports whether an active key is available.
func observeProviderKey(ctx context.Context, rec *Recorder, keys KeyProvider, provider, label string, missing core.Severity) bool {
	configured := false
	rec.Observe(ctx, label+" API Configuration", core.SeverityHigh, func(ctx context.Context) (core.CheckOutcome, error) {
		if keys == nil {
			return core.CheckOutcome{}, fmt.Errorf("no key provider configured")
		}
		key, err := keys.GetAPIKey(ctx, provider)
		if err != nil {
			return core.CheckOutcome{}, fmt.Errorf("could not load %s key: %w", label, err)
		}
		if key == nil || key.Key == "" || !key.IsActive {
			rec.Error(fmt.Sprintf("%s API key not configured", label))
			rec.Recommend(fmt.Sprintf("Configure the %s API key", label))
			return Fail(missing, "%s API key not found or inactive", label), nil
		}
		configured = true
		return Pass("%s API key configured", label), nil
	})
	return configured
}

func percent(part, total int64) int64 {
	if total <= 0 {
		return 100
	}
	return (part*100 + total/2) / total
}
