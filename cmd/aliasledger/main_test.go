package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"github.com/Mindburn-Labs/aliasledger/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T, backend string) (dir, publicPEM string) {
	t.Helper()
	priv, pub, err := crypto.GenerateP256KeyPEM()
	require.NoError(t, err)

	dir = t.TempDir()
	t.Setenv("ALIAS_PEPPER", "cli-test-pepper")
	t.Setenv("WORM_PRIVATE_KEY", priv)
	t.Setenv("WORM_PRIVATE_KEY_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LEDGER_BACKEND", backend)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("ARTIFACT_STORAGE_TYPE", "fs")
	t.Setenv("LOG_LEVEL", "ERROR")
	return dir, pub
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"aliasledger"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_EndToEnd(t *testing.T) {
	dir, pub := setupEnv(t, config.BackendSQL)

	code, out, errOut := run(t, "register", "--tenant", "bank-a", "--alias", "Juan.Perez",
		"--bank", "Banco de Chile", "--account-type", "CTA_CORRIENTE", "--last4", "1234")
	require.Equal(t, 0, code, errOut)
	var registered map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &registered))
	assert.Equal(t, "juan.perez", registered["alias_normalized"])
	assert.Equal(t, "ACTIVE", registered["status"])

	code, out, errOut = run(t, "resolve", "--tenant", "bank-a", "--alias", "JUAN.PEREZ")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"found": true`)

	code, out, _ = run(t, "resolve", "--tenant", "bank-b", "--alias", "juan.perez")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `"found": false`)

	code, out, errOut = run(t, "validate", "--tenant", "bank-b", "--alias", "juan.perez")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"exists": true`)
	assert.NotContains(t, out, "1234")

	code, _, _ = run(t, "validate", "--tenant", "bank-b", "--alias", "nobody.here")
	assert.Equal(t, 1, code)

	code, out, errOut = run(t, "history", "--tenant", "bank-a", "--alias", "juan.perez")
	require.Equal(t, 0, code, errOut)
	var h struct {
		TotalEvents int `json:"total_events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	// CREATE, RESOLVE, INTEROP_RESOLVE
	assert.Equal(t, 3, h.TotalEvents)

	code, out, errOut = run(t, "verify-chain", "--tenant", "bank-a", "--alias", "juan.perez")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"is_valid": true`)

	bundlePath := filepath.Join(dir, "bundle.json")
	today := time.Now().UTC().Format("2006-01-02")
	code, out, errOut = run(t, "evidence", "--date", today, "--archive", "--out", bundlePath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, bundlePath)
	assert.Contains(t, errOut, "sha256:")

	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, []byte(pub), 0o600))
	code, out, errOut = run(t, "verify-bundle", "--public-key", pubPath, bundlePath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "VERIFIED")

	// Archiving the same day again keeps the first index entry.
	code, _, errOut = run(t, "evidence", "--date", today, "--archive", "--out", filepath.Join(dir, "again.json"))
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "already archived")

	code, out, errOut = run(t, "deactivate", "--tenant", "bank-a", "--alias", "juan.perez")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"deactivated": true`)

	code, _, _ = run(t, "deactivate", "--tenant", "bank-a", "--alias", "unknown.alias")
	assert.Equal(t, 1, code)

	zipPath := filepath.Join(dir, "audit.zip")
	code, out, errOut = run(t, "audit-export", "--tenant", "bank-b", "--out", zipPath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, zipPath)
	assert.FileExists(t, zipPath)
}

func TestRun_VerifyBundleTampered(t *testing.T) {
	dir, _ := setupEnv(t, config.BackendMemory)

	bundlePath := filepath.Join(dir, "bundle.json")
	code, _, errOut := run(t, "evidence", "--date", "2024-01-15", "--out", bundlePath)
	require.Equal(t, 0, code, errOut)

	raw, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	var b map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &b))
	b["period"] = "2024-01-16"
	raw, err = json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bundlePath, raw, 0o600))

	code, out, _ := run(t, "verify-bundle", "--json", bundlePath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `"valid": false`)
}

func TestRun_Errors(t *testing.T) {
	t.Run("unknown command", func(t *testing.T) {
		code, _, errOut := run(t, "nope")
		assert.Equal(t, 2, code)
		assert.Contains(t, errOut, "unknown command")
	})
	t.Run("missing pepper", func(t *testing.T) {
		setupEnv(t, config.BackendMemory)
		t.Setenv("ALIAS_PEPPER", "")
		code, _, errOut := run(t, "resolve", "--tenant", "t", "--alias", "abcd")
		assert.Equal(t, 2, code)
		assert.Contains(t, errOut, "ALIAS_PEPPER")
	})
	t.Run("invalid registration", func(t *testing.T) {
		setupEnv(t, config.BackendMemory)
		code, _, _ := run(t, "register", "--tenant", "t", "--alias", "abc",
			"--bank", "Banco Estado", "--last4", "12")
		assert.Equal(t, 2, code)
	})
	t.Run("bad date", func(t *testing.T) {
		setupEnv(t, config.BackendMemory)
		code, _, errOut := run(t, "evidence", "--date", "15/01/2024")
		assert.Equal(t, 2, code)
		assert.Contains(t, errOut, "YYYY-MM-DD")
	})
}

func TestRun_Keygen(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := run(t, "keygen", "--out-dir", dir)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "WORM_PRIVATE_KEY_FILE=")

	info, err := os.Stat(filepath.Join(dir, "worm_private_key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	priv, err := os.ReadFile(filepath.Join(dir, "worm_private_key.pem"))
	require.NoError(t, err)
	_, err = crypto.NewECDSASignerFromPEM(string(priv))
	require.NoError(t, err)
}

func TestHealthHandler(t *testing.T) {
	cfg := &config.Config{LedgerBackend: config.BackendSQL}

	srv := httptest.NewServer(healthHandler(cfg, func(context.Context) error { return nil }))
	defer srv.Close()
	var out bytes.Buffer
	require.NoError(t, checkHealth(context.Background(), srv.URL, &out))
	assert.Contains(t, out.String(), `"status":"ok"`)
	assert.Contains(t, out.String(), `"lite_mode":true`)

	down := httptest.NewServer(healthHandler(cfg, func(context.Context) error { return errors.New("db gone") }))
	defer down.Close()
	resp, err := http.Get(down.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	err = checkHealth(context.Background(), down.URL, &out)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)
}
