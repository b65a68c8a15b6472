package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/saworbit/snapvault/internal/metrics"
	"github.com/saworbit/snapvault/pkg/audit"
	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/config"
	"github.com/saworbit/snapvault/pkg/identity"
	"github.com/saworbit/snapvault/pkg/policy"
	"github.com/saworbit/snapvault/pkg/vault"
)

var (
	cfgFile   string
	storeRoot string
	version   = "dev"
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// statusColor paints status for a terminal, and leaves it plain otherwise
// so piped output and log aggregators never see ANSI escapes.
func statusColor(status audit.Status) string {
	text := string(status)
	if !isTTY() {
		return text
	}
	switch status {
	case audit.StatusOK:
		return "\033[32m" + text + "\033[0m"
	case audit.StatusDeny:
		return "\033[33m" + text + "\033[0m"
	default:
		return "\033[31m" + text + "\033[0m"
	}
}

// loadPolicy returns the configured policy table, or the built-in default
// when no policy file is set.
func loadPolicy(cfg *config.Config) (policy.Table, error) {
	if cfg.PolicyFile == "" {
		return policy.Default(), nil
	}
	if _, err := os.Stat(cfg.PolicyFile); os.IsNotExist(err) {
		return policy.Default(), nil
	}
	return policy.Load(cfg.PolicyFile)
}

// runGuarded wraps fn with the identity -> policy -> audit envelope every
// command goes through: identity failure and policy denial both write an
// audit entry and return before fn runs, and success or failure writes
// exactly one more audit entry once fn returns.
func runGuarded(command string, args []string, fn func(cfg *config.Config) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if storeRoot != "" {
		cfg.StoreRoot = storeRoot
	}

	id, err := identity.Resolve(cfg.OperatorRoleEnv)
	if err != nil {
		log.Printf("[Auth] identity resolution failed: %v", err)
		if failLog, auditErr := audit.Open(filepath.Join(cfg.StoreRoot, "audit.log")); auditErr == nil {
			if appendErr := failLog.Append(time.Now().UnixMilli(), "unknown", command, args, audit.StatusFail, err.Error()); appendErr != nil {
				log.Printf("[Audit] failed to append entry: %v", appendErr)
			}
			failLog.Close()
		}
		return err
	}

	tbl, err := loadPolicy(cfg)
	if err != nil {
		return err
	}

	logPath := filepath.Join(cfg.StoreRoot, "audit.log")
	logger, auditErr := audit.Open(logPath)
	if auditErr != nil {
		log.Printf("[Audit] could not open audit log at %s: %v", logPath, auditErr)
	}
	if logger != nil {
		defer logger.Close()
	}

	record := func(status audit.Status, cmdErr error) {
		fmt.Fprintf(os.Stderr, "[%s] %s %s\n", statusColor(status), id.Username, command)
		if logger == nil {
			return
		}
		errMsg := ""
		if cmdErr != nil {
			errMsg = cmdErr.Error()
		}
		if err := logger.Append(time.Now().UnixMilli(), id.Username, command, args, status, errMsg); err != nil {
			log.Printf("[Audit] failed to append entry: %v", err)
		}
	}

	if tbl.Check(id.Role, command) == policy.Deny {
		metrics.IncAuditDenied()
		record(audit.StatusDeny, fmt.Errorf("%w: role %s may not run %s", backuperr.ErrPermissionDenied, id.Role, command))
		return fmt.Errorf("%w: role %s may not run %s", backuperr.ErrPermissionDenied, id.Role, command)
	}

	runErr := fn(cfg)
	if runErr != nil {
		record(audit.StatusFail, runErr)
		return runErr
	}
	record(audit.StatusOK, nil)
	return nil
}

func openStore(cfg *config.Config) (*vault.Store, error) {
	return vault.Open(cfg.StoreRoot)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new store directory skeleton",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded("init", nil, func(cfg *config.Config) error {
				if err := vault.Init(cfg.StoreRoot); err != nil {
					return err
				}
				fmt.Printf("initialized store at %s\n", cfg.StoreRoot)
				return nil
			})
		},
	}
}

func newBackupCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "backup <source>",
		Short: "Capture a new snapshot of a source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			return runGuarded("backup", args, func(cfg *config.Config) error {
				if err := preflightReadable(source); err != nil {
					return err
				}
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				if label == "" {
					label = cfg.DefaultLabel
				}
				record, err := s.Backup(source, label)
				if err != nil {
					return err
				}
				fmt.Printf("snapshot %s committed: %d files, %d chunks, root %s\n",
					record.ID, record.TotalFiles, record.TotalChunks, record.MerkleRoot)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Label recorded with the snapshot")
	return cmd
}

// preflightReadable walks source and checks every regular file is readable
// by the current user before a backup attempts to ingest it, so a
// permission problem surfaces before any chunk is written rather than
// mid-transaction.
func preflightReadable(source string) error {
	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		return ensureReadable(path, info)
	})
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots in sequence order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded("list", nil, func(cfg *config.Config) error {
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				for _, r := range s.List() {
					fmt.Printf("%-28s seq=%-6d files=%-6d chunks=%-6d label=%s\n",
						r.ID, r.Sequence, r.TotalFiles, r.TotalChunks, r.Label)
				}
				return nil
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot-id>",
		Short: "Verify a snapshot's manifest, chunks, Merkle root and chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid := args[0]
			return runGuarded("verify", args, func(cfg *config.Config) error {
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				if err := s.Verify(sid); err != nil {
					return err
				}
				fmt.Printf("snapshot %s verified ok\n", sid)
				return nil
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id> <target>",
		Short: "Restore a snapshot into a target directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, target := args[0], args[1]
			return runGuarded("restore", args, func(cfg *config.Config) error {
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				if err := s.Restore(sid, target); err != nil {
					return err
				}
				fmt.Printf("snapshot %s restored to %s\n", sid, target)
				return nil
			})
		},
	}
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit-verify",
		Short: "Verify the audit log's hash chain end to end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded("audit-verify", nil, func(cfg *config.Config) error {
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				lastHash, err := s.AuditVerify()
				if err != nil {
					return err
				}
				fmt.Printf("audit log verified ok, chain tip %s\n", lastHash)
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	var labelPrefix string
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <source>",
		Short: "Watch a source directory and auto-backup on change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			return runGuarded("watch", args, func(cfg *config.Config) error {
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				if debounce <= 0 {
					debounce = cfg.WatchDebounce
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				return s.Watch(ctx, source, labelPrefix, debounce)
			})
		},
	}
	cmd.Flags().StringVar(&labelPrefix, "label-prefix", "auto", "Label prefix applied to watch-triggered snapshots")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Debounce window after the last filesystem event (defaults to config)")
	return cmd
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <snapshot-a> <snapshot-b>",
		Short: "Report added, removed and modified files between two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b := args[0], args[1]
			return runGuarded("diff", args, func(cfg *config.Config) error {
				s, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer s.Close()

				report, err := s.DiffSnapshots(a, b)
				if err != nil {
					return err
				}
				for _, f := range report.Files {
					switch f.Change {
					case "modified":
						fmt.Printf("%-10s %s (patch %d bytes, %.1f%% of new size)\n", f.Change, f.Path, f.PatchSizeBytes, f.CompressionRate*100)
					default:
						fmt.Printf("%-10s %s\n", f.Change, f.Path)
					}
				}
				return nil
			})
		},
	}
}

func newServeMetricsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded("serve-metrics", nil, func(cfg *config.Config) error {
				if addr == "" {
					addr = cfg.MetricsAddr
				}
				metrics.SetAgentInfo("", "", version)

				s, err := openStore(cfg)
				if err == nil {
					defer s.Close()
					metrics.SetSnapshotsTracked(len(s.List()))
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				log.Printf("[Metrics] serving on %s", addr)
				return metrics.Serve(ctx, addr, log.Default())
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for /metrics (defaults to config)")
	return cmd
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backupctl",
		Short: "Content-addressed backup vault with tamper-evident integrity guarantees",
		Long: `backupctl captures directory trees into a content-addressed chunk
store, tracks each snapshot in a hash-chained metadata ledger that makes
rollback and substitution detectable, and records every command invocation
in a tamper-evident audit log.`,
		Version: version,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a TOML config file")
	root.PersistentFlags().StringVar(&storeRoot, "store", "", "Store directory (overrides config)")

	root.AddCommand(
		newInitCmd(),
		newBackupCmd(),
		newListCmd(),
		newVerifyCmd(),
		newRestoreCmd(),
		newAuditVerifyCmd(),
		newWatchCmd(),
		newDiffCmd(),
		newServeMetricsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
