package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"rewarder/config"
	"rewarder/database"
	"rewarder/models"
	"rewarder/service"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const cliActor = "cli"

// storeURLs returns every distinct store URL, budget first
func storeURLs(cfg *config.Config) []string {
	urls := []string{cfg.GetDatabaseURL()}
	if cfg.SeparateWalletStore() {
		urls = append(urls, cfg.GetWalletDatabaseURL())
	}
	return urls
}

// Migrate runs a migration command against every store
func Migrate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rewarder migrate [up|down|status] [steps]")
	}

	cfg := config.Get()
	config.ConfigureLogging(cfg)

	for _, url := range storeURLs(cfg) {
		var err error
		switch args[0] {
		case "up":
			err = database.MigrateUp(url)
		case "down":
			steps := "1"
			if len(args) > 1 {
				steps = args[1]
			}
			err = database.MigrateDown(url, steps)
		case "status":
			err = database.MigrateStatus(url)
		default:
			return fmt.Errorf("unknown migration command: %s", args[0])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Fund loads a merchant budget: rewarder fund <merchant_ref> <amount>
func Fund(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: rewarder fund <merchant_ref> <amount>")
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}
	cents, err := models.ToMinorUnits(amount)
	if err != nil {
		return err
	}

	return withApp(ctx, func(ctx context.Context, a *app) error {
		txn, err := a.budget.Credit(ctx, args[0], cents, "budget load")
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"merchantRef": args[0],
			"amount":      models.FormatMinorUnits(txn.Amount),
			"balance":     models.FormatMinorUnits(txn.BalanceAfter),
		}).Info("Budget loaded")
		return nil
	})
}

// CreateCampaign inserts a campaign:
// rewarder campaign -merchant m -ref spring -rate 5 [-starts RFC3339] [-ends RFC3339]
func CreateCampaign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("campaign", flag.ContinueOnError)
	merchant := fs.String("merchant", "", "merchant reference")
	ref := fs.String("ref", "", "campaign reference")
	rate := fs.String("rate", "", "cashback rate in percent, e.g. 2.5")
	starts := fs.String("starts", "", "start time (RFC3339), default now")
	ends := fs.String("ends", "", "end time (RFC3339), default open-ended")
	inactive := fs.Bool("inactive", false, "create the campaign switched off")
	if err := fs.Parse(args); err != nil {
		return err
	}

	campaign, err := buildCampaign(*merchant, *ref, *rate, *starts, *ends, time.Now().UTC())
	if err != nil {
		return err
	}
	campaign.Active = !*inactive

	return withApp(ctx, func(ctx context.Context, a *app) error {
		var cache campaignInvalidator
		if a.campaignCache != nil {
			cache = a.campaignCache
		}
		return storeCampaign(ctx, a.campaigns, cache, campaign)
	})
}

type campaignCreator interface {
	Create(ctx context.Context, c *models.Campaign) error
}

type campaignInvalidator interface {
	Invalidate(ctx context.Context, merchantRef, campaignRef string) error
}

// storeCampaign inserts the campaign and drops cached lookups for its merchant
// so running services see it before the cache TTL runs out. A cache failure
// is logged; the campaign is already stored.
func storeCampaign(ctx context.Context, store campaignCreator, cache campaignInvalidator, campaign *models.Campaign) error {
	if err := store.Create(ctx, campaign); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: campaign %s already exists", service.ErrDuplicate, campaign.CampaignRef)
		}
		return err
	}

	if cache != nil {
		if err := cache.Invalidate(ctx, campaign.MerchantRef, campaign.CampaignRef); err != nil {
			log.WithFields(log.Fields{
				"merchantRef": campaign.MerchantRef,
				"error":       err,
			}).Warn("Failed to invalidate campaign cache")
		}
	}

	log.WithFields(log.Fields{
		"campaignRef": campaign.CampaignRef,
		"merchantRef": campaign.MerchantRef,
		"rate":        campaign.Rate.String(),
	}).Info("Campaign created")
	return nil
}

func buildCampaign(merchant, ref, rate, starts, ends string, now time.Time) (*models.Campaign, error) {
	merchant, ref = strings.TrimSpace(merchant), strings.TrimSpace(ref)
	if merchant == "" || ref == "" {
		return nil, fmt.Errorf("%w: -merchant and -ref are required", service.ErrValidation)
	}

	parsedRate, err := decimal.NewFromString(rate)
	if err != nil || !parsedRate.IsPositive() || parsedRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: -rate must be a percentage in (0, 100]", service.ErrValidation)
	}

	campaign := &models.Campaign{
		CampaignRef: ref,
		MerchantRef: merchant,
		Rate:        parsedRate,
		StartsAt:    now,
	}
	if starts != "" {
		if campaign.StartsAt, err = time.Parse(time.RFC3339, starts); err != nil {
			return nil, fmt.Errorf("%w: invalid -starts: %v", service.ErrValidation, err)
		}
	}
	if ends != "" {
		endsAt, err := time.Parse(time.RFC3339, ends)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -ends: %v", service.ErrValidation, err)
		}
		if !endsAt.After(campaign.StartsAt) {
			return nil, fmt.Errorf("%w: -ends must be after -starts", service.ErrValidation)
		}
		campaign.EndsAt = &endsAt
	}
	return campaign, nil
}

// Sweep runs one pass of every dispatcher and reconciles stale settlements
func Sweep(ctx context.Context) error {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		for name, d := range a.dispatchers {
			summary, err := d.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("%s dispatcher pass failed: %w", name, err)
			}
			log.WithFields(log.Fields{
				"store":   name,
				"claimed": summary.Claimed,
				"sent":    summary.Sent,
				"retried": summary.Retried,
				"failed":  summary.Failed,
			}).Info("Dispatcher pass completed")
		}

		reconciled, err := a.settlements.ReconcileStale(ctx, a.cfg.DispatchBatchSize)
		if err != nil {
			return err
		}
		log.WithField("reconciled", reconciled).Info("Stale settlements checked")
		return nil
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg := config.Get()
	config.ConfigureLogging(cfg)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(service.WithActor(ctx, cliActor), a)
}
