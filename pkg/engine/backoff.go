package engine

import (
	"math"
	"time"

	"github.com/kode4food/stagehand/internal/config"
)

type backoffCalculator func(base time.Duration, retryCount int) time.Duration

var backoffCalculators = map[string]backoffCalculator{
	config.BackoffTypeFixed: func(base time.Duration, _ int) time.Duration {
		return base
	},
	config.BackoffTypeLinear: func(
		base time.Duration, count int,
	) time.Duration {
		return base * time.Duration(count+1)
	},
	config.BackoffTypeExponential: func(
		base time.Duration, count int,
	) time.Duration {
		multiplier := math.Pow(2, float64(count))
		return time.Duration(float64(base) * multiplier)
	},
}

// nextRetryDelay calculates the delay before the next attempt using the
// configured backoff strategy. retryCount is the number of attempts that
// have already failed, starting at zero
func nextRetryDelay(retry *config.RetryConfig, retryCount int) time.Duration {
	calculator, ok := backoffCalculators[retry.BackoffType]
	if !ok {
		calculator = backoffCalculators[config.BackoffTypeFixed]
	}
	return min(calculator(retry.InitBackoff, retryCount), retry.MaxBackoff)
}
