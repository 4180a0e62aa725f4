package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"convert-web/internal/database"
	"convert-web/internal/preferences"

	"github.com/spf13/cobra"
)

var errUnknownDocument = errors.New("unknown preference document")

// prefsBackend reads and writes preference documents, either through a
// server or directly in its database file.
type prefsBackend interface {
	Names(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Set(ctx context.Context, name string, doc []byte) ([]byte, error)
	Close() error
}

type remotePrefs struct {
	server string
	client *http.Client
}

func (r *remotePrefs) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.server+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusNotFound:
		return nil, errUnknownDocument
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("server answered %s: %s", resp.Status, apiErr.Error)
		}
		return nil, fmt.Errorf("server answered %s", resp.Status)
	}
}

func (r *remotePrefs) Names(ctx context.Context) ([]string, error) {
	data, err := r.do(ctx, http.MethodGet, "/api/preferences", nil)
	if err != nil {
		return nil, err
	}
	var index struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode preference index: %w", err)
	}
	return index.Names, nil
}

func (r *remotePrefs) Get(ctx context.Context, name string) ([]byte, error) {
	return r.do(ctx, http.MethodGet, "/api/preferences/"+name, nil)
}

func (r *remotePrefs) Set(ctx context.Context, name string, doc []byte) ([]byte, error) {
	return r.do(ctx, http.MethodPut, "/api/preferences/"+name, doc)
}

func (r *remotePrefs) Close() error { return nil }

type localPrefs struct {
	db    *database.Database
	store *preferences.Store
}

func openLocalPrefs(ctx context.Context, dbPath string) (*localPrefs, error) {
	db, err := database.New(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	store, err := preferences.Open(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &localPrefs{db: db, store: store}, nil
}

func (l *localPrefs) Names(_ context.Context) ([]string, error) {
	return l.store.Names(), nil
}

func (l *localPrefs) Get(_ context.Context, name string) ([]byte, error) {
	doc, ok := l.store.Lookup(name)
	if !ok {
		return nil, errUnknownDocument
	}
	return doc.JSON()
}

func (l *localPrefs) Set(ctx context.Context, name string, data []byte) ([]byte, error) {
	doc, ok := l.store.Lookup(name)
	if !ok {
		return nil, errUnknownDocument
	}
	if err := doc.SetJSON(ctx, data); err != nil {
		return nil, err
	}
	return doc.JSON()
}

func (l *localPrefs) Close() error { return l.db.Close() }

func openPrefsBackend(ctx context.Context, s settings) (prefsBackend, error) {
	if dbPath := s.String("db"); dbPath != "" {
		return openLocalPrefs(ctx, dbPath)
	}
	return &remotePrefs{
		server: strings.TrimRight(s.String("server"), "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// prettyJSON indents data for the terminal, falling back to the raw bytes.
func prettyJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and update stored preferences",
	}
	cmd.PersistentFlags().String("db", "", "edit this database file directly instead of going through the server")

	withBackend := func(run func(ctx context.Context, b prefsBackend, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			b, err := openPrefsBackend(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer b.Close()
			return run(cmd.Context(), b, cmd, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List preference documents",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(ctx context.Context, b prefsBackend, cmd *cobra.Command, _ []string) error {
			names, err := b.Names(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get NAME",
		Short: "Print one preference document",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(ctx context.Context, b prefsBackend, cmd *cobra.Command, args []string) error {
			data, err := b.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(prettyJSON(data))
			return err
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME JSON",
		Short: "Merge a JSON document over a preference document (JSON - reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: withBackend(func(ctx context.Context, b prefsBackend, cmd *cobra.Command, args []string) error {
			doc := []byte(args[1])
			if args[1] == "-" {
				var err error
				if doc, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if !json.Valid(doc) {
				return fmt.Errorf("%s: invalid JSON", args[0])
			}

			data, err := b.Set(ctx, args[0], doc)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(prettyJSON(data))
			return err
		}),
	})

	return cmd
}
