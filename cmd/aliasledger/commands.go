package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/artifacts"
	"github.com/Mindburn-Labs/aliasledger/pkg/audit"
	"github.com/Mindburn-Labs/aliasledger/pkg/crypto"
	"github.com/Mindburn-Labs/aliasledger/pkg/directory"
	"github.com/Mindburn-Labs/aliasledger/pkg/evidence"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp loads configuration, wires the app and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

type aliasFlags struct {
	tenant        string
	alias         string
	correlationID string
}

func (f *aliasFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&f.alias, "alias", "", "Alias (required)")
	cmd.Flags().StringVar(&f.correlationID, "correlation-id", "", "Request correlation id (generated when empty)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("alias")
}

func newRegisterCmd() *cobra.Command {
	var (
		f           aliasFlags
		bank        string
		accountType string
		last4       string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an alias for a bank account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				alias, err := a.directory.Register(ctx, directory.RegisterCommand{
					TenantID:      f.tenant,
					Alias:         f.alias,
					Bank:          bank,
					AccountType:   directory.AccountType(accountType),
					Last4:         last4,
					CorrelationID: f.correlationID,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), alias)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&bank, "bank", "", "Bank name (required)")
	cmd.Flags().StringVar(&accountType, "account-type", string(directory.AccountVista), "CTA_VISTA, CTA_CORRIENTE, CTA_AHORRO or CTA_PLATINUM")
	cmd.Flags().StringVar(&last4, "last4", "", "Last four digits of the account (required)")
	_ = cmd.MarkFlagRequired("bank")
	_ = cmd.MarkFlagRequired("last4")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var f aliasFlags
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a tenant's active alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.directory.Resolve(ctx, directory.ResolveQuery{
					TenantID: f.tenant, Alias: f.alias, CorrelationID: f.correlationID,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Found {
					return failed()
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newDeactivateCmd() *cobra.Command {
	var f aliasFlags
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate an alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ok, err := a.directory.Deactivate(ctx, directory.DeactivateCommand{
					TenantID: f.tenant, Alias: f.alias, CorrelationID: f.correlationID,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]bool{"deactivated": ok}); err != nil {
					return err
				}
				if !ok {
					return failed()
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var f aliasFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the event chain of an alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				h, err := a.directory.History(ctx, f.tenant, f.alias)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), h)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newVerifyChainCmd() *cobra.Command {
	var f aliasFlags
	cmd := &cobra.Command{
		Use:   "verify-chain",
		Short: "Check the hash chain of an alias for tampering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				resp, err := a.directory.VerifyChain(ctx, f.tenant, f.alias)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
					return err
				}
				if !resp.IsValid {
					return failed()
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func newValidateCmd() *cobra.Command {
	var f aliasFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check across tenants whether an alias exists",
		Long: `Check across tenants whether an alias exists. --tenant is the requesting
tenant. Only the alias hash and routing code are disclosed; every query is
recorded in the interop audit trail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.validator.Validate(ctx, f.alias, f.tenant)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Exists {
					return failed()
				}
				return nil
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC().AddDate(0, 0, -1), nil
	}
	d, err := time.Parse(evidence.PeriodLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

func newEvidenceCmd() *cobra.Command {
	var (
		date    string
		tenant  string
		out     string
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Generate the signed evidence bundle of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := parseDay(date, time.Now())
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				bundle, err := a.generator.Generate(ctx, day, tenant)
				if err != nil {
					return err
				}
				if archive {
					if err := archiveBundle(ctx, cmd, a, bundle, tenant); err != nil {
						return err
					}
				}
				if out == "" {
					return printJSON(cmd.OutOrStdout(), bundle)
				}
				data, err := json.MarshalIndent(bundle, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o600); err != nil {
					return fmt.Errorf("write bundle: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Evidence for %s written to %s (%d events)\n", bundle.Period, out, len(bundle.HashChain))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to cover, YYYY-MM-DD (default: yesterday UTC)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Restrict the bundle to one tenant")
	cmd.Flags().StringVar(&out, "out", "", "Write the bundle to a file instead of stdout")
	cmd.Flags().BoolVar(&archive, "archive", false, "Also store the bundle in WORM storage (ARTIFACT_STORAGE_TYPE)")
	return cmd
}

func archiveBundle(ctx context.Context, cmd *cobra.Command, a *app, b *evidence.Bundle, tenant string) error {
	s, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return err
	}
	ref, err := evidence.NewArchiver(s).Archive(ctx, b)
	if err != nil {
		return err
	}
	err = a.index.Record(ctx, b.Period, tenant, ref)
	if errors.Is(err, evidence.ErrAlreadyArchived) {
		existing, _, _ := a.index.Lookup(ctx, b.Period, tenant)
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Period %s was already archived as %s; %s kept as an additional copy\n", b.Period, existing, ref)
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Archived %s as %s\n", b.Period, ref)
	return nil
}

func newVerifyBundleCmd() *cobra.Command {
	var (
		publicKey  string
		constraint string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "verify-bundle <bundle.json>",
		Short: "Verify an evidence bundle offline",
		Long: `Verify an evidence bundle offline: schema, version, item hashes, root hash
and signature. Pass --public-key to pin the issuer's key.

Exit codes: 0 verified, 1 verification failed, 2 runtime error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read bundle: %w", err)
			}
			opts := evidence.VerifyOptions{VersionConstraint: constraint}
			if publicKey != "" {
				pem, err := os.ReadFile(publicKey)
				if err != nil {
					return fmt.Errorf("read public key: %w", err)
				}
				opts.TrustedPublicKey = string(pem)
			}

			report := evidence.VerifyBundle(raw, opts)
			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(w, report); err != nil {
					return err
				}
			} else {
				for _, c := range report.Checks {
					mark := "PASS"
					if !c.OK {
						mark = "FAIL"
					}
					_, _ = fmt.Fprintf(w, "  [%s] %s %s\n", mark, c.Name, c.Detail)
				}
				if report.Valid {
					_, _ = fmt.Fprintf(w, "VERIFIED: %s, %d events, root %s\n", report.Period, report.Events, report.RootHash)
				} else {
					_, _ = fmt.Fprintln(w, "FAILED")
				}
			}
			if !report.Valid {
				return failed()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "PEM file of the trusted issuer key")
	cmd.Flags().StringVar(&constraint, "accept-version", evidence.DefaultVersionConstraint, "Accepted bundle versions (semver constraint)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a P-256 evidence signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := crypto.GenerateP256KeyPEM()
			if err != nil {
				return err
			}
			if outDir == "" {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), priv, pub)
				return nil
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return err
			}
			privPath := filepath.Join(outDir, "worm_private_key.pem")
			pubPath := filepath.Join(outDir, "worm_public_key.pem")
			if err := os.WriteFile(privPath, []byte(priv), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubPath, []byte(pub), 0o644); err != nil { //nolint:gosec // public key
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Private key: %s\nPublic key:  %s\nSet WORM_PRIVATE_KEY_FILE=%s\n", privPath, pubPath, privPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Write worm_private_key.pem and worm_public_key.pem here")
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var (
		tenant   string
		from, to string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "audit-export",
		Short: "Export a tenant's interop audit trail as a zip pack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := audit.ExportRequest{TenantID: tenant}
			for _, p := range []struct {
				raw string
				dst *time.Time
			}{{from, &req.StartTime}, {to, &req.EndTime}} {
				if p.raw == "" {
					continue
				}
				t, err := time.Parse(time.RFC3339, p.raw)
				if err != nil {
					return &exitError{code: 2, err: fmt.Errorf("invalid time %q, want RFC 3339", p.raw)}
				}
				*p.dst = t
			}
			if out == "" {
				out = fmt.Sprintf("interop-audit-%s-%s.zip", tenant, uuid.NewString()[:8])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				pack, sum, err := audit.NewExporter(a.audits).GeneratePack(ctx, req)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, pack, 0o600); err != nil {
					return fmt.Errorf("write pack: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&from, "from", "", "Start time, RFC 3339")
	cmd.Flags().StringVar(&to, "to", "", "End time, RFC 3339")
	cmd.Flags().StringVar(&out, "out", "", "Output zip path")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
