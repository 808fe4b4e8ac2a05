package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/huntplane/huntplane/internal/database"
	"github.com/huntplane/huntplane/pkg/types"
	"github.com/huntplane/huntplane/pkg/vulntest"
)

var payloadFile string

var payloadsCmd = &cobra.Command{
	Use:   "payloads",
	Short: "Manage the payload library",
}

var payloadsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the built-in payload catalog",
	Long: `Insert the built-in payload catalog, plus any custom payloads from a
YAML file, into the library. Seeding is idempotent: payloads are keyed
by (attack_type, payload_string) and existing entries are left alone.

Example:
  huntplane payloads seed
  huntplane payloads seed --file payloads.yaml`,
	RunE: runPayloadsSeed,
}

var payloadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show payload counts per attack type",
	RunE:  runPayloadsList,
}

func init() {
	rootCmd.AddCommand(payloadsCmd)
	payloadsCmd.AddCommand(payloadsSeedCmd)
	payloadsCmd.AddCommand(payloadsListCmd)
	payloadsSeedCmd.Flags().StringVar(&payloadFile, "file", "", "custom payload catalog (YAML)")
}

func runPayloadsSeed(cmd *cobra.Command, args []string) error {
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	file := payloadFile
	if file == "" {
		file = cfg.Testing.PayloadFile
	}

	created, err := vulntest.SeedPayloads(context.Background(), store, log, file)
	if err != nil {
		return err
	}

	if created == 0 {
		color.Yellow("Payload library already seeded, nothing to do")
	} else {
		color.Green("Seeded %d payloads", created)
	}
	return nil
}

func runPayloadsList(cmd *cobra.Command, args []string) error {
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	attackTypes := []types.AttackType{
		types.AttackXSS,
		types.AttackSQLi,
		types.AttackIDOR,
		types.AttackOpenRedirect,
		types.AttackSSRF,
		types.AttackLFI,
		types.AttackAuthBypass,
		types.AttackBusinessLogic,
	}

	bold := color.New(color.Bold)
	bold.Println("Payload library:")
	total := 0
	for _, attackType := range attackTypes {
		payloads, err := store.GetPayloads(ctx, attackType)
		if err != nil {
			return err
		}
		total += len(payloads)
		fmt.Printf("  %-16s %d\n", attackType, len(payloads))
	}
	bold.Printf("Total: %d\n", total)
	return nil
}
