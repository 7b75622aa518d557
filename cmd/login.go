package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <owner> <image>",
	Short: "Authenticate a live photo against an enrolled identity",
	Long: `Authenticate a live photo against the reference photos of an enrolled identity.
The remote face service is tried first and local embeddings are used as fallback.
The command exits with an error when the login is rejected.`,
	Args: cobra.ExactArgs(2),
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().Float64("remote-threshold", 0, "Minimum remote confidence (0 uses the configured default)")
	loginCmd.Flags().Float64("local-distance", 0, "Maximum local cosine distance (0 uses the configured default)")
	loginCmd.Flags().Bool("json", false, "Print the outcome as JSON")
}

var errLoginRejected = errors.New("login rejected")

func runLogin(cmd *cobra.Command, args []string) error {
	owner, path := args[0], args[1]
	live, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	outcome, err := a.service.Login(ctx, owner, live, auth.Thresholds{
		RemoteConfidence: mustGetFloat64(cmd, "remote-threshold"),
		LocalDistance:    mustGetFloat64(cmd, "local-distance"),
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}
	} else {
		printOutcome(owner, outcome)
	}

	if !outcome.IsMatch {
		return errLoginRejected
	}
	return nil
}

func printOutcome(owner string, o *auth.Outcome) {
	result := "REJECTED"
	if o.IsMatch {
		result = "ACCEPTED"
	}
	fmt.Printf("Login %s for %s\n", result, owner)
	if o.Strategy != "" {
		fmt.Printf("  Strategy:   %s\n", o.Strategy)
	}
	fmt.Printf("  Confidence: %.3f\n", o.Confidence)
	fmt.Printf("  Score:      %.3f (threshold %.3f)\n", o.DistanceOrConfidence, o.ThresholdUsed)
	fmt.Printf("  References: %d\n", o.ReferencesTried)
	if o.Reason != "" {
		fmt.Printf("  Reason:     %s\n", o.Reason)
	}
	if o.Emotion != nil {
		fmt.Printf("  Emotion:    %s (%.2f)\n", o.Emotion.Label, o.Emotion.Score)
	}
}
