package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codequerydev/codequery/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Generate, list, and purge API keys directly against the configured stores.",
	}

	cmd.AddCommand(newKeyGenerateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyPurgeCmd())

	return cmd
}

// withGateway opens the stores quietly for a one-shot command.
func withGateway(fn func(ctx context.Context, gw *gateway) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	gw, err := openGateway(settings, newLogger(settings.Log, false))
	if err != nil {
		return err
	}
	defer gw.Close()
	return fn(context.Background(), gw)
}

// ---------- key generate ----------

func newKeyGenerateCmd() *cobra.Command {
	var (
		days       int
		rpm        int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key",
		Long:  "Generate a new API key with an empty endpoint registration. The raw key is shown once and cannot be retrieved again.",
		Example: `  codequery key generate
  codequery key generate --days 90 --rpm 120`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts service.GenerateOptions
			if cmd.Flags().Changed("days") {
				opts.ExpirationDays = &days
			}
			if cmd.Flags().Changed("rpm") {
				opts.RequestsPerMinute = &rpm
			}
			return withGateway(func(ctx context.Context, gw *gateway) error {
				return runKeyGenerate(ctx, cmd.OutOrStdout(), gw, opts, jsonOutput)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Days until the key expires (default from keys.default_expiration_days)")
	cmd.Flags().IntVar(&rpm, "rpm", 0, "Requests per minute (default from keys.default_requests_per_minute)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyGenerate(ctx context.Context, w io.Writer, gw *gateway, opts service.GenerateOptions, jsonOutput bool) error {
	key, err := gw.keys.Generate(ctx, opts)
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"api_key":             key.Key,
			"key_prefix":          key.KeyPrefix,
			"expires_at":          key.ExpiresAt,
			"requests_per_minute": key.RequestsPerMinute,
		})
	}

	fmt.Fprintln(w, "API Key generated:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Key:        %s\n", key.Key)
	fmt.Fprintf(w, "  Rate limit: %d requests/minute\n", key.RequestsPerMinute)
	fmt.Fprintf(w, "  Expires:    %s\n", formatTime(key.ExpiresAt, "never"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		Long:    "List stored keys by prefix. Raw keys are never stored, so they cannot be shown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(func(ctx context.Context, gw *gateway) error {
				return runKeyList(ctx, cmd.OutOrStdout(), gw, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, w io.Writer, gw *gateway, jsonOutput bool) error {
	keys, err := gw.keys.ListKeys(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No API keys stored. Use 'codequery key generate' to create one.")
		return nil
	}

	const row = "%-16s %-6s %-10s %-20s %-20s %-10s\n"
	fmt.Fprintf(w, row, "PREFIX", "RPM", "REQUESTS", "EXPIRES", "LAST USED", "ENDPOINT")
	fmt.Fprintf(w, row, "------", "---", "--------", "-------", "---------", "--------")
	for _, k := range keys {
		endpoint := "no"
		if k.Registered {
			endpoint = "yes"
		}
		fmt.Fprintf(w, row,
			k.KeyPrefix,
			fmt.Sprint(k.RequestsPerMinute),
			fmt.Sprint(k.TotalRequests),
			formatTime(k.ExpiresAt, "never"),
			formatTime(k.LastUsed, "-"),
			endpoint,
		)
	}
	return nil
}

// ---------- key purge ----------

func newKeyPurgeCmd() *cobra.Command {
	var asAdmin bool

	cmd := &cobra.Command{
		Use:   "purge <key>",
		Short: "Purge an API key and its endpoint registration",
		Long: `Remove a key's record and its endpoint registration. The key authorizes its own
purge; with --admin the configured admin key is prompted for instead, which is
needed to purge a key that has already expired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(func(ctx context.Context, gw *gateway) error {
				requester, err := purgeRequester(ctx, gw, args[0], asAdmin, cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				receipt, err := gw.keys.Purge(ctx, args[0], requester)
				if err != nil {
					return fmt.Errorf("purge api key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged API key %s (%d requests, last used %s)\n",
					receipt.KeyPrefix, receipt.TotalRequests, formatTime(receipt.LastUsed, "never"))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asAdmin, "admin", false, "Authorize with the admin key (prompted)")

	return cmd
}

func purgeRequester(ctx context.Context, gw *gateway, target string, asAdmin bool, in io.Reader, prompt io.Writer) (*service.Principal, error) {
	if !asAdmin {
		p, err := gw.keys.Authenticate(ctx, target)
		if errors.Is(err, service.ErrKeyExpired) {
			return nil, fmt.Errorf("%w: use --admin to purge it", err)
		}
		return p, err
	}

	adminKey, err := readSecret(in, prompt, "Admin key: ")
	if err != nil {
		return nil, err
	}
	p, err := gw.keys.Authenticate(ctx, adminKey)
	if err != nil || !p.Admin {
		return nil, errors.New("not the configured admin key")
	}
	return p, nil
}

// readSecret reads a line without echo when in is a terminal.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func formatTime(t *time.Time, none string) string {
	if t == nil {
		return none
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
