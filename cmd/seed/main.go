package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"clubmailer/internal/app"
	"clubmailer/internal/config"
	"clubmailer/internal/models"
	"clubmailer/internal/repository"
	"clubmailer/internal/service"
)

// ANSI color codes for terminal output
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

var (
	tenantID       = flag.String("tenant", "demo", "Tenant the campaigns belong to")
	campaignsCount = flag.Int("campaigns", 2, "Number of campaigns to create")
	recipients     = flag.Int("recipients", 25, "Recipients per campaign")
	domain         = flag.String("domain", "example.com", "Domain of the generated recipient addresses")
)

var firstNames = []string{"Amina", "Brian", "Chloe", "David", "Esther", "Felix", "Grace", "Hassan", "Ivy", "Joel"}

func main() {
	flag.Parse()

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	printInfo("=== clubmailer seeder ===\n")

	if err := run(context.Background()); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printInfo("\nSeeding completed successfully!")
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := service.NewCampaignService(
		repository.NewCampaignRepository(db),
		repository.NewQueueRepository(db),
		service.NewTemplateService(),
	)

	for i := 1; i <= *campaignsCount; i++ {
		req := &service.CreateCampaignRequest{
			TenantID:   *tenantID,
			Subject:    fmt.Sprintf("Club newsletter #%d for {name}", i),
			Body:       "<p>Hi {name},</p><p>Training moves to Thursday this week.</p>",
			FromName:   "Demo Club",
			FromEmail:  "club@" + *domain,
			Recipients: seedRecipients(i, *recipients, *domain),
		}
		campaign, err := svc.CreateCampaign(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to seed campaign %d: %w", i, err)
		}
		printSuccess(fmt.Sprintf("✓ Campaign %d enqueued with %d recipients", campaign.ID, campaign.TotalRecipients))
	}
	return nil
}

func seedRecipients(campaign, count int, domain string) []models.Recipient {
	out := make([]models.Recipient, count)
	for i := range out {
		name := firstNames[i%len(firstNames)]
		out[i] = models.Recipient{
			Email:     fmt.Sprintf("member%02d.%03d@%s", campaign, i+1, domain),
			Variables: map[string]string{"name": name},
		}
	}
	return out
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}
