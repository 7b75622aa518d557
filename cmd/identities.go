package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage enrolled identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities and the identities known to the remote service",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesShowCmd = &cobra.Command{
	Use:   "show <owner>",
	Short: "Show the enrollment record of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesShow,
}

var identitiesRemoveCmd = &cobra.Command{
	Use:   "remove <owner>",
	Short: "Remove an identity with its reference photos and embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesRemove,
}

var identitiesTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the remote person group and wait for completion",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesTrain,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd, identitiesShowCmd, identitiesRemoveCmd, identitiesTrainCmd)

	identitiesListCmd.Flags().Bool("remote", false, "Also list the identities of the remote person group")
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	owners, err := a.service.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list owners: %w", err)
	}
	fmt.Printf("Enrolled identities (%d):\n", len(owners))
	for _, o := range owners {
		fmt.Printf("  %s\n", o)
	}

	if !mustGetBool(cmd, "remote") {
		return nil
	}
	identities, err := a.service.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list remote identities: %w", err)
	}
	fmt.Printf("\nRemote identities (%d):\n", len(identities))
	for _, id := range identities {
		fmt.Printf("  %-40s %s (%d faces)\n", id.PersonID, id.Name, len(id.PersistedFaceIDs))
	}
	return nil
}

func runIdentitiesShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	e, err := a.service.Enrollment(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Identity %s\n", e.OwnerKey)
	if e.RemoteIdentityID != "" {
		fmt.Printf("  Remote person: %s\n", e.RemoteIdentityID)
	}
	fmt.Printf("  Updated:       %s\n", e.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  References (%d):\n", len(e.Locators))
	for _, l := range e.Locators {
		fmt.Printf("    %s\n", l)
	}
	return nil
}

func runIdentitiesRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.service.RemoveIdentity(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Removed %s: %d photos, %d embeddings, remote removed: %t\n",
		r.OwnerKey, r.LocatorsRemoved, r.EmbeddingsRemoved, r.RemoteRemoved)
	return nil
}

func runIdentitiesTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Println("Training remote person group...")
	if err := a.service.Train(ctx); err != nil {
		return err
	}
	fmt.Println("Training succeeded")
	return nil
}
