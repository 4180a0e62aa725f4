package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"convert-web/internal/bridge"
	"convert-web/internal/filesystem"
	"convert-web/internal/logging"
	"convert-web/internal/preferences"
	"convert-web/internal/saver"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// saveOptions is everything one save run needs.
type saveOptions struct {
	Server        string
	Mode          saver.Mode
	OutDir        string
	ArchivePrefix string
	MaxInFlight   int
	AckTimeout    time.Duration
	Frame         bool
	// Settings overrides; nil reads them from the server.
	KeepInMemory    *bool
	RevokeObjectURL *bool
}

// saveResult reports what ended up on disk.
type saveResult struct {
	Mode  saver.Mode
	Files []string
	Links []saver.Link
}

func newSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save FILE...",
		Short: "Save files as links, a zip archive, or into a directory",
		Long: `Save files the way the converter page does.

Modes:
  link   each file is delivered on its own
  zip    files are collected into an archive built in memory
  zipjs  the archive is streamed through the server's bridge
  handle files are written into the output directory`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			opts := saveOptions{
				Server:        s.String("server"),
				Mode:          saver.ParseMode(s.String("mode")),
				OutDir:        s.String("out"),
				ArchivePrefix: s.String("archive-prefix"),
				MaxInFlight:   s.Int("max-in-flight"),
				AckTimeout:    s.Duration("ack-timeout"),
				Frame:         s.Bool("frame"),
			}
			if cmd.Flags().Changed("keep-in-memory") {
				keep := s.Bool("keep-in-memory")
				opts.KeepInMemory = &keep
			}
			if cmd.Flags().Changed("revoke") {
				revoke := s.Bool("revoke")
				opts.RevokeObjectURL = &revoke
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			progress := newProgress(cmd.ErrOrStderr())
			result, err := runSave(ctx, afero.NewOsFs(), args, opts, progress)
			progress.Done()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saved with %s strategy:\n", result.Mode)
			for _, f := range result.Files {
				fmt.Fprintf(out, "  %s\n", filepath.Join(opts.OutDir, f))
			}
			for _, l := range result.Links {
				fmt.Fprintf(out, "  link %s -> %s\n", l.Name, l.URL)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("mode", "m", string(saver.ModeZipJS), "strategy: link, zip, zipjs or handle")
	flags.StringP("out", "o", ".", "output directory")
	flags.String("archive-prefix", saver.DefaultArchivePrefix, "archive name prefix for the zip strategy")
	flags.Int("max-in-flight", 0, "unacknowledged chunks allowed per transfer (0 = no limit)")
	flags.Duration("ack-timeout", 30*time.Second, "how long to wait for each bridge acknowledgment")
	flags.Bool("frame", false, "deliver streamed archives through the frame trigger")
	flags.Bool("keep-in-memory", false, "keep delivered links listed (overrides the server setting)")
	flags.Bool("revoke", true, "revoke links after delivery (overrides the server setting)")
	return cmd
}

// stderrNotifier shows saver alerts on the terminal.
type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) Alert(message string) {
	fmt.Fprintf(n.w, "\n%s\n", message)
}

// fetchSettings reads the file saver settings stored on the server. A
// server without them yields the defaults.
func fetchSettings(ctx context.Context, client *http.Client, server string) saver.Settings {
	defaults := preferences.DefaultSettings()
	result := saver.Settings{
		KeepInMemory:    defaults.FileSaver.KeepInMemory,
		RevokeObjectURL: defaults.FileSaver.RevokeObjectURL,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/preferences/settings", http.NoBody)
	if err != nil {
		return result
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Debug("Using default saver settings: %v", err)
		return result
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logging.Debug("Using default saver settings: server answered %s", resp.Status)
		return result
	}

	var stored preferences.Settings
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		logging.Debug("Using default saver settings: %v", err)
		return result
	}
	return saver.Settings{
		KeepInMemory:    stored.FileSaver.KeepInMemory,
		RevokeObjectURL: stored.FileSaver.RevokeObjectURL,
	}
}

// runSave saves every path in inputs (read from src) into opts.OutDir.
func runSave(ctx context.Context, src afero.Fs, inputs []string, opts saveOptions, progress *progress) (*saveResult, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	out := afero.NewBasePathFs(afero.NewOsFs(), opts.OutDir)

	httpClient := &http.Client{}
	settings := fetchSettings(ctx, &http.Client{Timeout: 10 * time.Second}, opts.Server)
	if opts.KeepInMemory != nil {
		settings.KeepInMemory = *opts.KeepInMemory
	}
	if opts.RevokeObjectURL != nil {
		settings.RevokeObjectURL = *opts.RevokeObjectURL
	}

	trigger := saver.NewHTTPTrigger(httpClient, out)
	trigger.OnProgress = progress.Add

	links := saver.NewObjectStore(out)
	caps := saver.Capabilities{
		Bridge: bridge.NewClient(bridge.NewHTTPTransport(opts.Server), bridge.ClientOptions{
			MaxInFlight: opts.MaxInFlight,
			AckTimeout:  opts.AckTimeout,
		}),
		Links:            links,
		Notifier:         stderrNotifier{w: os.Stderr},
		PopupsUnreliable: opts.Frame,
	}
	if opts.Frame {
		caps.Frame = trigger
	} else {
		caps.Popup = trigger
	}
	if opts.Mode == saver.ModeHandle {
		caps.Directory = out
	}

	linkList := &saver.LinkList{}
	fs, err := saver.New(ctx, opts.Mode, caps, settings, saver.Options{
		BaseURL:       opts.Server,
		ArchivePrefix: opts.ArchivePrefix,
		Links:         linkList,
	})
	if err != nil {
		return nil, err
	}

	retry := filesystem.DefaultRetryConfig()
	for _, input := range inputs {
		if err := saveOne(ctx, fs, src, input, retry, progress); err != nil {
			_ = fs.Release(ctx)
			_, _ = trigger.Wait()
			return nil, err
		}
	}

	if err := fs.Release(ctx); err != nil {
		return nil, fmt.Errorf("finish %s save: %w", fs.Mode(), err)
	}
	downloaded, err := trigger.Wait()
	if err != nil {
		return nil, err
	}

	result := &saveResult{Mode: fs.Mode(), Links: linkList.All()}
	result.Files = append(result.Files, downloaded...)
	for _, p := range links.Saved() {
		result.Files = append(result.Files, strings.TrimPrefix(p, "/"))
	}
	if fs.Mode() == saver.ModeHandle {
		for _, input := range inputs {
			result.Files = append(result.Files, filepath.Base(input))
		}
	}
	return result, nil
}

func saveOne(ctx context.Context, fs *saver.FileSaver, src afero.Fs, input string, retry filesystem.RetryConfig, progress *progress) error {
	f, err := filesystem.OpenWithRetry(src, input, retry)
	if err != nil {
		return fmt.Errorf("open %s: %w", input, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", input, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", input, errIsDirectory)
	}

	progress.Start(filepath.Base(input), info.Size())
	if err := fs.WriteFrom(ctx, f, filepath.Base(input), false); err != nil {
		return fmt.Errorf("save %s: %w", input, err)
	}
	return nil
}

var errIsDirectory = errors.New("is a directory")
