package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [owner] [image...]",
	Short: "Enroll reference photos for an identity",
	Long: `Enroll one or more reference photos for an identity.

With --dir, every subdirectory of the given directory is enrolled as one
identity named after the subdirectory, using the images inside it.

Examples:
  face-auth enroll alice alice1.jpg alice2.jpg
  face-auth enroll --dir ./people`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Directory with one subdirectory of photos per identity")
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	if dir == "" && len(args) < 2 {
		return errors.New("owner and at least one image are required (or use --dir)")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if dir != "" {
		return enrollDirectory(ctx, a.service, dir)
	}

	images, err := readImages(args[1:])
	if err != nil {
		return err
	}
	result, err := a.service.Enroll(ctx, args[0], images)
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}
	printEnrollResult(args[0], result)
	return nil
}

// enrollDirectory enrolls every subdirectory of dir as one identity.
func enrollDirectory(ctx context.Context, svc *auth.Service, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	var owners []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			owners = append(owners, e.Name())
		}
	}
	if len(owners) == 0 {
		return fmt.Errorf("no identity directories found in %s", dir)
	}

	bar := progressbar.NewOptions(len(owners),
		progressbar.OptionSetDescription("Enrolling identities"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var failed []string
	var added, embedded int
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		files, err := listImages(filepath.Join(dir, owner))
		if err == nil && len(files) == 0 {
			err = errors.New("no images")
		}
		var result *auth.EnrollResult
		if err == nil {
			var images [][]byte
			if images, err = readImages(files); err == nil {
				result, err = svc.Enroll(ctx, owner, images)
			}
		}
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", owner, err))
		} else {
			added += result.AddedCount
			embedded += result.Embedded
		}
		_ = bar.Add(1)
	}
	fmt.Println()

	fmt.Printf("Enrolled %d identities: %d photos added, %d embedded\n", len(owners)-len(failed), added, embedded)
	for _, f := range failed {
		fmt.Printf("  failed %s\n", f)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d identities failed", len(failed), len(owners))
	}
	return nil
}

// listImages returns the image files directly inside dir, sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func readImages(paths []string) ([][]byte, error) {
	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // paths come from the command line
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func printEnrollResult(owner string, r *auth.EnrollResult) {
	fmt.Printf("Enrolled %s\n", owner)
	fmt.Printf("  Photos added:      %d\n", r.AddedCount)
	fmt.Printf("  Embeddings stored: %d\n", r.Embedded)
	fmt.Printf("  Remote registered: %d\n", r.RemoteRegistered)
	for _, l := range r.Locators {
		fmt.Printf("  %s\n", l)
	}
}
