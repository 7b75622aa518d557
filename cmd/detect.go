package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect faces in a photo",
	Long: `Detect faces in a photo using the remote face service, or the local model when
the remote service is not configured. With --analyze, detections are fused with
the emotion attributes of the configured attributes provider.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().Bool("analyze", false, "Attach emotion attributes from the attributes provider")
	detectCmd.Flags().Float64("iou", 0, "Minimum IoU for attaching attributes (0 uses the configured default)")
}

func runDetect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0]) //nolint:gosec // path comes from the command line
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if !mustGetBool(cmd, "analyze") {
		faces, err := a.service.DetectOnly(ctx, data)
		if err != nil {
			return fmt.Errorf("detection failed: %w", err)
		}
		fmt.Printf("Found %d face(s)\n", len(faces))
		for i, f := range faces {
			fmt.Printf("  %d. [%s] top=%.0f left=%.0f %.0fx%.0f", i+1, f.Source, f.Rect.Top, f.Rect.Left, f.Rect.Width, f.Rect.Height)
			if f.Confidence != nil {
				fmt.Printf(" confidence=%.2f", *f.Confidence)
			}
			fmt.Println()
		}
		return nil
	}

	iou := mustGetFloat64(cmd, "iou")
	if iou <= 0 {
		iou = a.cfg.Auth.FusionIoUThreshold
	}
	fused, err := a.service.Analyze(ctx, data, iou)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	fmt.Printf("Found %d face(s), attributes IoU threshold %.2f\n", len(fused), iou)
	for i, f := range fused {
		fmt.Printf("  %d. [%s] top=%.0f left=%.0f %.0fx%.0f", i+1, f.Primary.Source, f.Rect.Top, f.Rect.Left, f.Rect.Width, f.Rect.Height)
		if f.Matched() {
			fmt.Printf(" emotion=%s (%.2f, IoU %.2f)", f.Secondary.BestEmotion.Label, f.Secondary.BestEmotion.Score, f.MatchIoU)
		}
		fmt.Println()
	}
	return nil
}
