// Package retry computes bounded backoff delays for contended operations.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identifies one attempt. Jitter is derived from these
// fields so two writers contending on different keys spread out while a
// replayed attempt waits exactly as long as before.
type BackoffParams struct {
	PolicyID     string
	Key          string
	Writer       string
	AttemptIndex int
}

// BackoffPolicy bounds the retry loop.
type BackoffPolicy struct {
	PolicyID    string
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// PolicyFromDurations builds a policy from configuration values.
func PolicyFromDurations(id string, maxAttempts int, base, max time.Duration) BackoffPolicy {
	return BackoffPolicy{
		PolicyID:    id,
		BaseMs:      base.Milliseconds(),
		MaxMs:       max.Milliseconds(),
		MaxJitterMs: base.Milliseconds(),
		MaxAttempts: maxAttempts,
	}
}

// ComputeBackoff returns the delay before the attempt after
// params.AttemptIndex: base * 2^attempt capped at MaxMs, plus jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	return time.Duration(baseDelay+ComputeDeterministicJitter(params, policy)) * time.Millisecond
}

// ComputeDeterministicJitter maps params to [0, MaxJitterMs).
func ComputeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%s:%d", params.PolicyID, params.Key, params.Writer, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	jitterBasis := binary.BigEndian.Uint64(hash[:8])
	return int64(jitterBasis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive here
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
