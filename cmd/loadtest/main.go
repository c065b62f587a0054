// Команда loadtest нагружает HTTP API маркетплейса сценариями покупки.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type loadMode string

const (
	// modePurchase: объявление, публикация, заказ.
	modePurchase loadMode = "purchase"
	// modeLifecycle: покупка и весь путь заказа до Completed.
	modeLifecycle loadMode = "lifecycle"
	// modeRace: несколько покупателей одновременно берут одно объявление.
	modeRace loadMode = "race"

	defaultCatalogID = "c0a8e0b2-0001-4c1e-9f00-000000000005"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	buyers      int
	catalogID   string
	price       int64
	tag         string
	outputPath  string
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg  config
		mode string
	)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "market HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run; with -duration acts as an upper bound only when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modePurchase), "purchase | lifecycle | race")
	fs.IntVar(&cfg.buyers, "buyers", 5, "concurrent buyers per listing in race mode")
	fs.StringVar(&cfg.catalogID, "catalog-id", defaultCatalogID, "catalog entry used for listings")
	fs.Int64Var(&cfg.price, "price", 15000, "listing price")
	fs.StringVar(&cfg.tag, "tag", "load", "seller id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	cfg.mode = loadMode(strings.TrimSpace(mode))
	var errs []error
	switch cfg.mode {
	case modePurchase, modeLifecycle, modeRace:
	default:
		errs = append(errs, fmt.Errorf("unsupported mode: %s", mode))
	}
	if strings.TrimSpace(cfg.baseURL) == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if cfg.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when duration is not set"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if cfg.mode == modeRace && cfg.buyers < 2 {
		errs = append(errs, errors.New("race mode needs at least 2 buyers"))
	}
	if cfg.price <= 0 {
		errs = append(errs, errors.New("price must be > 0"))
	}
	if strings.TrimSpace(cfg.catalogID) == "" {
		errs = append(errs, errors.New("catalog-id is required"))
	}
	return cfg, errors.Join(errs...)
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := execute(cfg)
	printReport(os.Stdout, result)
	if cfg.outputPath != "" {
		if err := writeReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// execute прогоняет сценарии пулом worker'ов и собирает отчёт.
func execute(cfg config) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	c := newClient(cfg, col)

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = runScenario(c, cfg, runID, index)
			}
		}()
	}

	dispatch(jobs, cfg)
	wg.Wait()

	return col.build(string(cfg.mode), startedAt, time.Since(startedAt))
}

func dispatch(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	deadline := time.NewTimer(cfg.duration)
	defer deadline.Stop()
	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-deadline.C:
			return
		case jobs <- i:
		}
	}
}
