package services

import (
	"context"
	"errors"
	"strings"

	"github.com/platewise/mealscan/internal/logging"
	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/models"
)

// ChainResult is what the adapter chain produced for one request. The chain
// itself never fails: the stub tier guarantees at least one prediction.
type ChainResult struct {
	Items    []models.FoodItemPrediction
	Strategy string

	// FallbackReason is set when the top tier did not produce the result,
	// and records why it fell. Falls below the top tier go to Diagnostics.
	FallbackReason *string
	Diagnostics    []models.Diagnostic
}

// AdapterChain walks recognition tiers in priority order until one
// produces predictions
type AdapterChain struct {
	tiers   []RecognitionStrategy
	metrics *metrics.Registry
	logger  logging.Logger
}

func NewAdapterChain(tiers []RecognitionStrategy, reg *metrics.Registry, logger logging.Logger) *AdapterChain {
	return &AdapterChain{
		tiers:   tiers,
		metrics: reg,
		logger:  logger,
	}
}

// Analyze runs the chain top down. Settings are resolved by the caller per
// request, so admin toggles apply without a restart.
func (c *AdapterChain) Analyze(ctx context.Context, settings TierSettings, req *RecognitionRequest) ChainResult {
	var result ChainResult

	for i, tier := range c.tiers {
		eligible, reason := tier.Eligible(settings, req)
		if !eligible {
			c.recordFall(&result, i, tier.Name(), reason, models.DiagnosticSeverityInfo, "tier skipped")
			continue
		}

		items, err := tier.Recognize(ctx, settings, req)
		if err != nil {
			reason := fallReason(err)
			c.recordFall(&result, i, tier.Name(), reason, models.DiagnosticSeverityWarning, "tier failed")

			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				c.metrics.IncCounter("analysis_errors_total", metrics.Labels{"kind": "parse"})
			}
			c.logger.Warn(ctx, "recognition tier failed", "tier", tier.Name(), "reason", reason)
			continue
		}

		c.metrics.IncCounter("recognition_requests_total", metrics.Labels{"phase": tier.Name(), "status": "completed"})
		result.Items = items
		result.Strategy = tier.Name()
		return result
	}

	// Only reachable if the chain was assembled without a stub tier
	stub := NewStubStrategy()
	result.Items, _ = stub.Recognize(ctx, settings, req)
	result.Strategy = stub.Name()
	return result
}

func (c *AdapterChain) recordFall(result *ChainResult, tierIndex int, tierName, reason, severity, what string) {
	status := "skipped"
	if severity == models.DiagnosticSeverityWarning {
		status = "failed"
	}
	c.metrics.IncCounter("recognition_requests_total", metrics.Labels{"phase": tierName, "status": status})
	c.metrics.IncCounter("analysis_fallback_total", metrics.Labels{"reason": reasonFamily(reason)})

	if tierIndex == 0 && result.FallbackReason == nil {
		r := reason
		result.FallbackReason = &r
		return
	}

	result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
		Code:     reason,
		Message:  tierName + " " + what,
		Severity: severity,
	})
}

// fallReason turns a tier error into the recorded reason string
func fallReason(err error) string {
	var infErr *InferenceError
	if errors.As(err, &infErr) {
		return infErr.Reason()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Code
	}
	return "CALL_ERR:" + err.Error()
}

// reasonFamily strips the detail so metric labels stay low cardinality
func reasonFamily(reason string) string {
	if i := strings.Index(reason, ":"); i > 0 {
		return reason[:i]
	}
	return reason
}
