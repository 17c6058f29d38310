package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/assetguard/assetguard/internal/compliance"
	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/history"
	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/assetguard/assetguard/internal/render"
	"github.com/assetguard/assetguard/internal/server"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const formatText = "text"

// errCheckFailed makes the process exit non-zero without repeating the report
var errCheckFailed = errors.New("compliance check failed")

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newEmulateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Serve the asset bucket locally with the production access rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"version": version,
				"commit":  commit,
				"date":    date,
			}).Info("Starting assetguard")

			srv, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringP("listen", "l", ":9000", "Listen address")
	cmd.Flags().Bool("enable-tls", false, "Enable TLS")
	cmd.Flags().String("cert-file", "", "TLS certificate file")
	cmd.Flags().String("key-file", "", "TLS key file")
	return cmd
}

func newCheckCommand() *cobra.Command {
	var (
		properties      []string
		format          string
		expectSingleUse bool
		noHistory       bool
		expiry          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the access properties against the configured endpoint",
		Long: `check writes short-lived probe objects under the probe tenant, exercises
each property and removes the probes again. It exits non-zero when any
property fails.

Properties: ` + strings.Join(compliance.Properties, ", "),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireCredentials(); err != nil {
				return err
			}

			opts := compliance.OptionsFromConfig(cfg)
			opts.ExpectSingleUse = expectSingleUse
			opts.PresignExpiry = expiry
			opts.Metrics = metrics.NewManager(cfg.Metrics)

			checker, err := compliance.NewChecker(opts)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			report, err := checker.Run(ctx, properties...)
			if err != nil {
				return err
			}

			if cfg.History.Enable && !noHistory {
				if err := recordReport(ctx, cfg, report); err != nil {
					logrus.WithError(err).Warn("Failed to record check run")
				}
			}

			if err := writeReport(cmd.OutOrStdout(), report, format); err != nil {
				return err
			}
			if !report.Passed() {
				return errCheckFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&properties, "property", "p", nil, "Properties to check (default all)")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format (text, json, yaml)")
	cmd.Flags().BoolVar(&expectSingleUse, "expect-single-use", false, "Fail when a pre-signed URL can be replayed (the emulator enforces this, S3 does not)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run")
	cmd.Flags().DurationVar(&expiry, "presign-expiry", time.Minute, "Lifetime of probe pre-signed URLs")
	return cmd
}

func recordReport(ctx context.Context, cfg *config.Config, report *compliance.Report) error {
	store, err := history.NewStore(cfg.History.Path, logrus.StandardLogger())
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, report)
}

func writeReport(w io.Writer, report *compliance.Report, format string) error {
	switch format {
	case "json", "yaml":
		return encode(w, report, format)
	case formatText, "":
	default:
		return fmt.Errorf("unsupported format %q", format)
	}

	fmt.Fprintf(w, "run %s  bucket %s  endpoint %s\n\n", report.ID, report.Bucket, report.Endpoint)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROPERTY\tSTATUS\tDURATION\tREASON")
	for _, res := range report.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Property, strings.ToUpper(string(res.Status)), res.Duration.Round(time.Millisecond), res.Reason)
		for _, d := range res.Details {
			fmt.Fprintf(tw, "\t\t\t  %s\n", d)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d passed, %d failed, %d skipped\n",
		report.Count(compliance.StatusPass), report.Count(compliance.StatusFail), report.Count(compliance.StatusSkip))
	return nil
}

func encode(w io.Writer, v any, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInspectCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Compare the live bucket configuration with the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			creds := cfg.Credentials.Auditor
			if !creds.Configured() {
				creds = cfg.Credentials.Backend
			}
			if !creds.Configured() {
				return fmt.Errorf("auditor or backend credentials are required")
			}

			doc, err := render.FromConfig(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			provider := credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")
			drift, err := compliance.NewInspector(cfg.Bucket.Endpoint, provider, doc.Bucket).Inspect(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json", "yaml":
				if err := encode(out, drift, format); err != nil {
					return err
				}
			default:
				if len(drift) == 0 {
					fmt.Fprintln(out, "bucket configuration matches the model")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SETTING\tEXPECTED\tACTUAL")
				for _, d := range drift {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Setting, d.Expected, d.Actual)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if len(drift) > 0 {
				return fmt.Errorf("%d settings drifted from the model", len(drift))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format (text, json, yaml)")
	return cmd
}

func newPolicyCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Render the bucket settings and IAM policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			doc, err := render.FromConfig(cfg)
			if err != nil {
				return err
			}
			return doc.Write(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", render.FormatJSON, "Output format (json, yaml)")
	return cmd
}

func newPresignCommand() *cobra.Command {
	var (
		tenant      string
		ext         string
		key         string
		contentType string
		expires     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "presign",
		Short: "Issue a single pre-signed PUT URL with the app credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			app := cfg.Credentials.App
			if !app.Configured() {
				return fmt.Errorf("credentials.app is required")
			}

			p, err := presigned.New(presigned.Options{
				Endpoint:      cfg.Bucket.Endpoint,
				Region:        cfg.Bucket.Region,
				Bucket:        cfg.Bucket.Name,
				Credentials:   credentials.NewStaticCredentialsProvider(app.AccessKey, app.SecretKey, ""),
				DefaultExpiry: time.Duration(cfg.Presign.DefaultExpirySeconds) * time.Second,
				MaxExpiry:     time.Duration(cfg.Presign.MaxExpirySeconds) * time.Second,
			})
			if err != nil {
				return err
			}

			var u *presigned.URL
			switch {
			case key != "":
				u, err = p.PresignPut(cmd.Context(), presigned.PutParams{Key: key, ContentType: contentType, Expires: expires})
			case tenant != "":
				u, err = p.PresignNewObject(cmd.Context(), tenant, ext, expires)
			default:
				return fmt.Errorf("either --key or --tenant is required")
			}
			if err != nil {
				return err
			}

			return encode(cmd.OutOrStdout(), u, "json")
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id; a fresh object id is generated")
	cmd.Flags().StringVar(&ext, "ext", "", "Extension for the generated object id, e.g. .png")
	cmd.Flags().StringVar(&key, "key", "", "Exact object key ({tenantId}/{objectId})")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type the upload must send")
	cmd.Flags().DurationVar(&expires, "expires", 0, "URL lifetime (default from config)")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded compliance check runs",
	}

	openStore := func(cmd *cobra.Command) (*history.Store, error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		return history.NewStore(cfg.History.Path, logrus.StandardLogger())
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tBUCKET\tRESULT\tFAILED\tSKIPPED")
			for _, r := range runs {
				result := "pass"
				if !r.Passed {
					result = "fail"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Bucket, result, r.Failed, r.Skipped)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	var format string
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the results of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, format)
		},
	}
	show.Flags().StringVarP(&format, "format", "f", formatText, "Output format (text, json, yaml)")

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete runs older than the given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Purge(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			logrus.WithField("deleted", n).Info("Purged check runs")
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the runs to delete")

	cmd.AddCommand(list, show, purge)
	return cmd
}
