// cmd/designer/main.go runs one design request through the job manager and
// prints the resulting proposal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"h2o-proposal-system/internal/app"
	"h2o-proposal-system/internal/config"
	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/jobs"
	"h2o-proposal-system/internal/kvstore"
)

func main() {
	requestPath := flag.String("request", "", "design request file (.json, .yaml or .yml)")
	configPath := flag.String("config", "", "optional config file")
	pollEvery := flag.Duration("poll", 500*time.Millisecond, "job poll interval")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	if *requestPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	if err := run(*requestPath, *configPath, *pollEvery, logger, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(requestPath, configPath string, pollEvery time.Duration, logger *zap.Logger, out io.Writer) error {
	req, err := readRequest(requestPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := kvstore.NewMemoryStore(time.Minute)
	defer store.Close()

	svc, err := app.New(ctx, cfg, logger, app.Options{Store: store})
	if err != nil {
		return err
	}
	defer svc.Shutdown(context.Background())

	snap, err := submitAndWait(ctx, svc.Jobs, req, pollEvery, logger)
	if err != nil {
		return err
	}
	if snap.Status == domain.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", snap.JobID, *snap.Error)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Result)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

type jobService interface {
	Submit(ctx context.Context, req domain.DesignRequest) (string, error)
	Poll(ctx context.Context, jobID string) (domain.JobSnapshot, error)
}

func submitAndWait(ctx context.Context, svc jobService, req domain.DesignRequest, every time.Duration, logger *zap.Logger) (domain.JobSnapshot, error) {
	id, err := svc.Submit(ctx, req)
	if err != nil {
		return domain.JobSnapshot{}, err
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	lastStep := ""
	for {
		snap, err := svc.Poll(ctx, id)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		if snap.CurrentStep != lastStep {
			lastStep = snap.CurrentStep
			logger.Info("job progress",
				zap.String("job_id", id),
				zap.String("step", snap.CurrentStep),
				zap.Int("percent", snap.ProgressPercent))
		}
		if snap.Status.IsTerminal() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return domain.JobSnapshot{}, fmt.Errorf("%w: %w", jobs.ErrShutdown, ctx.Err())
		case <-ticker.C:
		}
	}
}

// readRequest decodes a JSON or YAML request file. YAML keys use the same
// snake_case names as the JSON form.
func readRequest(path string) (domain.DesignRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DesignRequest{}, fmt.Errorf("failed to read request file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return domain.DesignRequest{}, fmt.Errorf("failed to parse request YAML: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return domain.DesignRequest{}, fmt.Errorf("failed to convert request YAML: %w", err)
		}
	}

	var req domain.DesignRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.DesignRequest{}, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}
