package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/menis/basespace-go/api"
	"github.com/menis/basespace-go/config"
	"github.com/menis/basespace-go/engine"
	"github.com/menis/basespace-go/store"
	"github.com/menis/basespace-go/ui"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch os.Args[1] {
	case "upload":
		cmdUpload(cfg, os.Args[2:])
	case "download":
		cmdDownload(cfg, os.Args[2:])
	case "jobs":
		cmdJobs(cfg)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: bsxfer <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  upload   <local-file>      Upload a file to the remote store")
	fmt.Println("  download <remote-file-id>  Download a remote file")
	fmt.Println("  jobs                       List recorded transfer jobs")
	fmt.Println("\nExamples:")
	fmt.Println("  bsxfer upload -dir /runs/latest sample.bam")
	fmt.Println("  bsxfer download -out ./results 7f3a9c")
	fmt.Println("  bsxfer download -range 0-999999 7f3a9c")
}

func cmdUpload(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	var (
		remoteDir   string
		fileName    string
		contentType string
	)
	fs.StringVar(&remoteDir, "dir", "/", "Remote directory to place the file in")
	fs.StringVar(&fileName, "name", "", "Remote file name (defaults to the local base name)")
	fs.StringVar(&contentType, "content-type", "", "Content type (detected from the file when empty)")
	common := commonFlags(fs, &cfg)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Println("Usage: bsxfer upload [options] <local-file>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	localPath := fs.Arg(0)

	runTransfer(cfg, *common, func(ctx context.Context, coord *engine.Coordinator) (*engine.TransferResult, error) {
		return coord.Upload(ctx, localPath, remoteDir, fileName, contentType, transferOptions(cfg))
	})
}

func cmdDownload(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	var (
		outDir    string
		rangeSpec string
	)
	fs.StringVar(&outDir, "out", ".", "Local directory to download into")
	fs.StringVar(&rangeSpec, "range", "", "Inclusive byte range start-end to fetch")
	common := commonFlags(fs, &cfg)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Println("Usage: bsxfer download [options] <remote-file-id>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	fileID := fs.Arg(0)

	opts := transferOptions(cfg)
	if rangeSpec != "" {
		br, err := parseRangeSpec(rangeSpec)
		if err != nil {
			log.Fatalf("Invalid -range: %v", err)
		}
		opts.ByteRange = br
	}

	runTransfer(cfg, *common, func(ctx context.Context, coord *engine.Coordinator) (*engine.TransferResult, error) {
		return coord.Download(ctx, fileID, outDir, opts)
	})
}

func cmdJobs(cfg config.Config) {
	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer st.Close()

	jobs, err := st.ListJobs()
	if err != nil {
		log.Fatalf("Failed to list jobs: %v", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No recorded jobs.")
		return
	}

	for _, j := range jobs {
		fmt.Printf("%s  %-8s  %-10s  %d/%d parts  %d/%d bytes  %s  %s\n",
			j.ID, j.Direction, j.State,
			j.PartsCompleted, j.PartsTotal,
			j.BytesTransferred, j.TotalBytes,
			j.UpdatedAt.Format(time.RFC3339), j.LocalPath)
	}
}

// commonFlags registers the flags shared by upload and download, writing
// overrides straight into the loaded config.
func commonFlags(fs *flag.FlagSet, cfg *config.Config) *bool {
	fs.StringVar(&cfg.API.Server, "server", cfg.API.Server, "API server base URL")
	fs.StringVar(&cfg.API.AccessToken, "token", cfg.API.AccessToken, "API access token")
	fs.Int64Var(&cfg.Transfer.PartSize, "part-size", cfg.Transfer.PartSize, "Part size in bytes (0 for default)")
	fs.IntVar(&cfg.Transfer.Concurrency, "concurrency", cfg.Transfer.Concurrency, "Concurrent part transfers (0 for default)")
	fs.IntVar(&cfg.Transfer.MaxAttempts, "max-attempts", cfg.Transfer.MaxAttempts, "Attempts per part before giving up (0 for default)")
	fs.StringVar(&cfg.Transfer.TempDir, "temp-dir", cfg.Transfer.TempDir, "Directory for per-part temp files (positioned writes when empty)")
	fs.StringVar(&cfg.State.Path, "state", cfg.State.Path, "Path of the job state database")
	tui := fs.Bool("tui", true, "Enable TUI (disable for headless operation)")
	return tui
}

func transferOptions(cfg config.Config) engine.TransferOptions {
	return engine.TransferOptions{
		PartSize:    cfg.Transfer.PartSize,
		Concurrency: cfg.Transfer.Concurrency,
		TempDir:     cfg.Transfer.TempDir,
	}
}

func parseRangeSpec(spec string) ([]int64, error) {
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("expected start-end, got %q", spec)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end: %w", err)
	}
	return []int64{start, end}, nil
}

func openStore(cfg config.Config) (*store.BoltStore, error) {
	if dir := filepath.Dir(cfg.State.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return store.NewBoltStore(cfg.State.Path)
}

func newLogger(cfg config.Config, tuiEnabled bool) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if tuiEnabled {
		// The TUI owns the terminal.
		logger.SetOutput(io.Discard)
	}
	return logger
}

func runTransfer(cfg config.Config, tuiEnabled bool, run func(context.Context, *engine.Coordinator) (*engine.TransferResult, error)) {
	logger := newLogger(cfg, tuiEnabled)

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer st.Close()

	tracker := engine.NewJobTracker(st, engine.DefaultCheckpointConfig)

	session := api.Session{
		Server:       cfg.API.Server,
		AccessToken:  cfg.API.AccessToken,
		AppSessionID: cfg.API.AppSessionID,
		Timeout:      cfg.API.Timeout,
	}
	client, err := api.NewClient(session, api.WithLogger(logrus.NewEntry(logger)))
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}

	retry := engine.DefaultRetryConfig
	if cfg.Transfer.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Transfer.MaxAttempts
	}

	// TUI state, fed from the engine's progress callback.
	var (
		mu       sync.Mutex
		tuiState = &ui.UIState{IsRunning: true}
		started  = time.Now()
	)
	onProgress := func(p engine.Progress) {
		mu.Lock()
		defer mu.Unlock()
		tuiState.JobID = p.JobID
		tuiState.Direction = string(p.Direction)
		tuiState.FileName = p.FileName
		tuiState.PartsDone = p.PartsDone
		tuiState.PartsTotal = p.PartsTotal
		tuiState.BytesDone = p.BytesDone
		tuiState.BytesTotal = p.BytesTotal
		if ms := float64(time.Since(started).Milliseconds()); ms > 0 {
			tuiState.ThroughputBPms = float64(p.BytesDone) / ms
		}
	}

	coord := engine.NewCoordinator(client,
		engine.WithTracker(tracker),
		engine.WithRetryConfig(retry),
		engine.WithLogger(logrus.NewEntry(logger)),
		engine.WithProgress(onProgress),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if !tuiEnabled {
		result, err := run(ctx, coord)
		if err != nil {
			log.Fatalf("Transfer failed: %v", err)
		}
		reportResult(result)
		return
	}

	teaProgram := tea.NewProgram(ui.NewTUIModel(tuiState), tea.WithAltScreen())

	// Forward state snapshots to the TUI until the transfer ends.
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				snapshot := *tuiState
				mu.Unlock()
				teaProgram.Send(ui.TUIUpdateMsg{State: &snapshot})
			}
		}
	}()

	var (
		result  *engine.TransferResult
		workErr error
	)
	go func() {
		result, workErr = run(ctx, coord)
		mu.Lock()
		tuiState.IsRunning = false
		if workErr != nil {
			tuiState.Failed = true
			tuiState.ErrMsg = workErr.Error()
		} else {
			tuiState.Done = true
		}
		snapshot := *tuiState
		mu.Unlock()
		teaProgram.Send(ui.TUIUpdateMsg{State: &snapshot})
	}()

	if _, err := teaProgram.Run(); err != nil {
		log.Fatalf("TUI error: %v", err)
	}
	cancel()

	if workErr != nil {
		log.Fatalf("Transfer failed: %v", workErr)
	}
	if result != nil {
		reportResult(result)
	}
}

func reportResult(result *engine.TransferResult) {
	switch {
	case result.LocalPath != "":
		fmt.Printf("Downloaded %s (%d bytes)\n", result.LocalPath, result.BytesTransferred)
	case result.File != nil:
		fmt.Printf("Uploaded file %s as %s (%d bytes)\n", result.File.Name, result.File.ID, result.BytesTransferred)
	default:
		fmt.Println("Transfer complete.")
	}
}
