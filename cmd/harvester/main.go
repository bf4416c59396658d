package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/lucashm/pncp-harvester/internal/adaptive"
	"github.com/lucashm/pncp-harvester/internal/cache"
	"github.com/lucashm/pncp-harvester/internal/config"
	"github.com/lucashm/pncp-harvester/internal/dates"
	"github.com/lucashm/pncp-harvester/internal/harvest"
	"github.com/lucashm/pncp-harvester/internal/httpclient"
	"github.com/lucashm/pncp-harvester/internal/metrics"
	"github.com/lucashm/pncp-harvester/internal/pncp"
	"github.com/lucashm/pncp-harvester/internal/repository"
)

type runFlags struct {
	startDate    string
	endDate      string
	modalities   string
	disputeMode  int
	objectFilter string
	itemTerms    string
	reportDir    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags runFlags

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Coleta contratações e itens do PNCP por período e modalidade",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}

	root.Flags().StringVar(&flags.startDate, "inicio", "", "data inicial (AAAAMMDD)")
	root.Flags().StringVar(&flags.endDate, "fim", "", "data final (AAAAMMDD)")
	root.Flags().StringVar(&flags.modalities, "modalidades", "6", "códigos de modalidade separados por ';' (ex.: 6;8;9)")
	root.Flags().IntVar(&flags.disputeMode, "modo", 0, "código do modo de disputa (0 = não filtrar)")
	root.Flags().StringVar(&flags.objectFilter, "objeto", "", "palavra no objeto da contratação")
	root.Flags().StringVar(&flags.itemTerms, "termos", "", "termos na descrição do item separados por ';'")
	root.Flags().StringVar(&flags.reportDir, "saida", "", "diretório do relatório (padrão: PNCP_REPORT_DIR)")
	_ = root.MarkFlagRequired("inicio")
	_ = root.MarkFlagRequired("fim")

	return root
}

func run(ctx context.Context, flags runFlags) error {
	logger := log.New(os.Stdout, "[pncp] ", log.LstdFlags|log.LUTC)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	modalities, err := harvest.ParseModalities(flags.modalities)
	if err != nil {
		return err
	}
	splitMode, err := dates.ParseMode(cfg.SplitMode)
	if err != nil {
		return err
	}
	var disputeMode *int
	if flags.disputeMode > 0 {
		disputeMode = &flags.disputeMode
	}
	reportDir := flags.reportDir
	if reportDir == "" {
		reportDir = cfg.ReportDir
	}

	disk, err := cache.NewDisk(cfg.CacheDir)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(cfg.MetricsWindow)
	client := httpclient.New(httpclient.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxRetries:     cfg.MaxRetries,
		JitterMax:      cfg.JitterMax,
		UserAgent:      cfg.UserAgent,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPSBurst),
		Metrics:        collector,
		Logger:         logger,
	})

	pages := adaptive.New(adaptive.Config{
		Name:     "pages",
		Initial:  8,
		Min:      2,
		Max:      cfg.MaxPageWorkers,
		Interval: cfg.AdjustInterval,
		P95Limit: cfg.P95Limit,
		ErrLimit: cfg.ErrRateLimit,
		Metrics:  collector,
		Logger:   logger,
	})
	items := adaptive.New(adaptive.Config{
		Name:     "items",
		Initial:  8,
		Min:      2,
		Max:      cfg.MaxItemWorkers,
		Interval: cfg.AdjustInterval,
		P95Limit: cfg.P95Limit,
		ErrLimit: cfg.ErrRateLimit,
		Metrics:  collector,
		Logger:   logger,
	})
	pages.Start(ctx)
	items.Start(ctx)

	pncpClient := pncp.NewClient(pncp.Config{
		ConsultaURL:      cfg.ConsultaURL,
		ItensURLTemplate: cfg.ItensURLTemplate,
		CacheOnly:        cfg.CacheOnly,
		HTTP:             client,
		Cache:            disk,
		Pages:            pages,
		Items:            items,
		Logger:           logger,
	})

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	runner := harvest.NewRunner(pncpClient, repo, splitMode, reportDir, logger)
	summary, err := runner.Run(ctx, harvest.Request{
		StartDate:    flags.startDate,
		EndDate:      flags.endDate,
		Modalities:   modalities,
		DisputeMode:  disputeMode,
		ObjectFilter: flags.objectFilter,
		ItemTerms:    harvest.ParseTerms(flags.itemTerms),
	})
	if err != nil {
		logger.Printf("run failed: %v", err)
		return err
	}

	fmt.Printf("relatório gerado: %s (%d itens de %d contratações únicas)\n",
		summary.ReportPath, summary.ItemsMatched, summary.UniqueRecords)
	if summary.PagesFailed > 0 || summary.ItemFetchesFailed > 0 || summary.WindowsFailed > 0 {
		fmt.Printf("atenção: unidades perdidas: janelas=%d páginas=%d itens=%d\n",
			summary.WindowsFailed, summary.PagesFailed, summary.ItemFetchesFailed)
	}
	return nil
}

func setupRepository(ctx context.Context, cfg config.Config, logger *log.Logger) (repository.RunsRepository, func()) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryRunsRepository(), func() {}
	}
	pgRepo, err := repository.NewPostgresRunsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres sink, fallback to memory: %v", err)
		return repository.NewMemoryRunsRepository(), func() {}
	}
	logger.Printf("postgres sink initialized")
	return pgRepo, func() { pgRepo.Close() }
}
