package evidence

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/Mindburn-Labs/aliasledger/pkg/crypto"
)

// DefaultVersionConstraint accepts every 1.x bundle.
const DefaultVersionConstraint = "^1"

// VerifyOptions tunes VerifyBundle.
type VerifyOptions struct {
	// TrustedPublicKey pins the signing key. When empty the key embedded
	// in the bundle is used, which only proves internal consistency.
	TrustedPublicKey  string
	VersionConstraint string
}

// Check is the outcome of one verification step.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the result of verifying a bundle.
type Report struct {
	Valid    bool    `json:"valid"`
	Period   string  `json:"period,omitempty"`
	RootHash string  `json:"root_hash,omitempty"`
	Events   int     `json:"events"`
	Checks   []Check `json:"checks"`
}

func (r *Report) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: detail})
	if !ok {
		r.Valid = false
	}
}

// VerifyBundle checks a bundle the way a regulator would: shape, version,
// item consistency, root hash and signature. It never returns an error;
// every failure is a failed check in the report.
func VerifyBundle(raw []byte, opts VerifyOptions) *Report {
	r := &Report{Valid: true}

	if err := ValidateSchema(raw); err != nil {
		r.add("schema", false, err.Error())
		return r
	}
	r.add("schema", true, "")

	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		r.add("decode", false, err.Error())
		return r
	}
	r.Period = b.Period
	r.RootHash = b.RootHash
	r.Events = len(b.HashChain)

	r.add(checkVersion(b.Version, opts.VersionConstraint))

	bad := 0
	for _, it := range b.HashChain {
		if it.PayloadHash != it.CurrentHash {
			bad++
		}
	}
	if bad > 0 {
		r.add("items", false, fmt.Sprintf("%d item(s) with payload_hash != current_hash", bad))
	} else {
		r.add("items", true, "")
	}

	if root := RootHash(b.HashChain); root != b.RootHash {
		r.add("root_hash", false, fmt.Sprintf("expected %s, bundle has %s", root, b.RootHash))
	} else {
		r.add("root_hash", true, "")
	}

	key := b.PublicKey
	if opts.TrustedPublicKey != "" {
		key = opts.TrustedPublicKey
		r.add(checkPinnedKey(b.PublicKey, opts.TrustedPublicKey))
	}
	ok, err := crypto.VerifyPEM(key, SignedPayload(b.Period, b.RootHash), b.DigitalSignature)
	switch {
	case err != nil:
		r.add("signature", false, err.Error())
	case !ok:
		r.add("signature", false, "signature does not match "+SignedPayload(b.Period, b.RootHash))
	default:
		r.add("signature", true, crypto.SignatureScheme)
	}
	return r
}

func checkVersion(version, constraint string) (string, bool, string) {
	if constraint == "" {
		constraint = DefaultVersionConstraint
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "version", false, fmt.Sprintf("bad constraint %q: %v", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return "version", false, fmt.Sprintf("unparsable version %q", version)
	}
	if !c.Check(v) {
		return "version", false, fmt.Sprintf("version %s does not satisfy %s", v, constraint)
	}
	return "version", true, v.String()
}

func checkPinnedKey(embedded, pinned string) (string, bool, string) {
	want, err := crypto.ParsePublicKeyPEM(pinned)
	if err != nil {
		return "public_key", false, "pinned key: " + err.Error()
	}
	got, err := crypto.ParsePublicKeyPEM(embedded)
	if err != nil {
		return "public_key", false, "embedded key: " + err.Error()
	}
	if !want.Equal(got) {
		return "public_key", false, "embedded key differs from pinned key"
	}
	return "public_key", true, ""
}
