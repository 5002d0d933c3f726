//go:build property

package chain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestChainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("event hash is deterministic", prop.ForAll(
		func(tenant, alias string, offset int64) bool {
			ts := base.Add(time.Duration(offset) * time.Second)
			a := CalculateEventHash(tenant, alias, KindResolve, ts, GenesisHash)
			b := CalculateEventHash(tenant, alias, KindResolve, ts.In(time.FixedZone("Z", 7200)), GenesisHash)
			return a == b && len(a) == 64
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("chains built by NewEvent verify", prop.ForAll(
		func(n int) bool {
			return VerifyChain(buildChain(n)).Valid
		},
		gen.IntRange(0, 40),
	))

	properties.Property("single mutation is detected at its index", prop.ForAll(
		func(n, seed int, mutatePrevious bool) bool {
			events := buildChain(n)
			i := seed % n
			if mutatePrevious {
				events[i].PreviousHash = SHA256Hex(events[i].PreviousHash)
			} else {
				events[i].CurrentHash = SHA256Hex(events[i].CurrentHash)
			}
			res := VerifyChain(events)
			if res.Valid || res.ChainBreakAt == nil || *res.ChainBreakAt != res.CorruptedIndices[0] {
				return false
			}
			for _, c := range res.CorruptedIndices {
				if c == i {
					return true
				}
			}
			return false
		},
		gen.IntRange(2, 25),
		gen.IntRange(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
