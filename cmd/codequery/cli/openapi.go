package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codequerydev/codequery/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the gateway's OpenAPI document",
		Long:  "Generate the OpenAPI 3.1 description of the gateway HTTP API, as served at /openapi.json.",
		Example: `  codequery openapi
  codequery openapi --base-url https://gateway.example -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = fmt.Sprintf("http://localhost:%d", settings.Server.Port)
			}
			doc := openapi.GenerateGatewaySpec(baseURL, settings.Auth.APIKeyHeader)

			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal openapi document: %w", err)
			}
			if outputFile == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			if err := os.WriteFile(outputFile, append(b, '\n'), 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise (default http://localhost:<port>)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to file instead of stdout")

	return cmd
}
