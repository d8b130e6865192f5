package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/mindgate/internal/mlclient"
	"github.com/harrylevesque/mindgate/internal/models"
)

var (
	mlURL     string
	token     string
	timeout   time.Duration
	modelType string
	level     string
	replace   string
)

var rootCmd = &cobra.Command{
	Use:          "mindgate-client",
	Short:        "Call the ML API from the command line",
	SilenceUsage: true,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the MentaLLaMA and PHI services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *mlclient.Client) error {
			ml, mlErr := c.CheckMLHealth(ctx)
			phi, phiErr := c.CheckPHIHealth(ctx)
			out := cmd.OutOrStdout()
			printHealth(out, "mentallama", ml, mlErr)
			printHealth(out, "phi", phi, phiErr)
			if mlErr != nil {
				return mlErr
			}
			return phiErr
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process [text]",
	Short: "Process text with a MentaLLaMA model (reads stdin without an argument)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := inputText(cmd, args)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *mlclient.Client) error {
			res, err := c.ProcessText(ctx, text, modelType, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var phiDetectCmd = &cobra.Command{
	Use:   "phi-detect [text]",
	Short: "Detect protected health information in text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := inputText(cmd, args)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *mlclient.Client) error {
			res, err := c.DetectPHI(ctx, text, level)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var phiRedactCmd = &cobra.Command{
	Use:   "phi-redact [text]",
	Short: "Redact protected health information and print the redacted text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := inputText(cmd, args)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *mlclient.Client) error {
			res, err := c.RedactPHI(ctx, text, replace, level)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.RedactedText)
			return nil
		})
	},
}

func init() {
	defaultURL := os.Getenv("MINDGATE_ML_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000/api/v1"
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&mlURL, "url", defaultURL, "ML API base url (env MINDGATE_ML_URL)")
	pf.StringVar(&token, "token", os.Getenv("MINDGATE_TOKEN"), "bearer token (env MINDGATE_TOKEN)")
	pf.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline including retries")

	processCmd.Flags().StringVar(&modelType, "model", "", "model type")
	for _, c := range []*cobra.Command{phiDetectCmd, phiRedactCmd} {
		c.Flags().StringVar(&level, "level", "moderate", "detection level: strict, moderate or relaxed")
	}
	phiRedactCmd.Flags().StringVar(&replace, "replacement", "", "replacement text, service default when empty")

	rootCmd.AddCommand(healthCmd, processCmd, phiDetectCmd, phiRedactCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withClient(cmd *cobra.Command, fn func(context.Context, *mlclient.Client) error) error {
	c, err := mlclient.New(mlURL, mlclient.WithToken(token))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHealth(w io.Writer, name string, h *models.Health, err error) {
	if err != nil {
		fmt.Fprintf(w, "%-11s DOWN  %v\n", name, err)
		return
	}
	fmt.Fprintf(w, "%-11s %-5s %s\n", name, strings.ToUpper(h.Status), h.Version)
}
