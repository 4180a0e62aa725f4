package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"convert-web/internal/preferences"
	"convert-web/internal/zipstream"
)

func TestListTransfers(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.registry.Create("first")
	env.finished(t, "second", "abc")

	w := env.do(http.MethodGet, "/api/transfers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var transfers []zipstream.TransferInfo
	decodeJSON(t, w.Body, &transfers)
	if len(transfers) != 2 {
		t.Fatalf("Expected 2 transfers, got %d", len(transfers))
	}

	byID := make(map[string]zipstream.TransferInfo)
	for _, info := range transfers {
		byID[info.ID] = info
	}
	if byID["first"].State != zipstream.StateOpen {
		t.Errorf("Expected first to be open, got %s", byID["first"].State)
	}
	if byID["second"].State != zipstream.StateClosed {
		t.Errorf("Expected second to be closed, got %s", byID["second"].State)
	}
	if byID["second"].BytesWritten != 3 {
		t.Errorf("Expected 3 bytes written, got %d", byID["second"].BytesWritten)
	}
}

func TestGetTransfer(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.registry.Create("one")

	w := env.do(http.MethodGet, "/api/transfers/one", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var info zipstream.TransferInfo
	decodeJSON(t, w.Body, &info)
	if info.ID != "one" {
		t.Errorf("Expected id one, got %s", info.ID)
	}

	missing := env.do(http.MethodGet, "/api/transfers/nope", "")
	if missing.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", missing.Code)
	}
}

func TestListPreferences(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/api/preferences", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var index PreferenceIndex
	decodeJSON(t, w.Body, &index)
	expected := []string{"conversion", "input", "merge", "metadata", "settings"}
	if strings.Join(index.Names, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected names %v, got %v", expected, index.Names)
	}
	if index.RestoreDisabled {
		t.Error("Expected restoring to be enabled by default")
	}

	if err := preferences.SetRestoreDisabled(context.Background(), env.db, true); err != nil {
		t.Fatalf("SetRestoreDisabled failed: %v", err)
	}
	w = env.do(http.MethodGet, "/api/preferences", "")
	decodeJSON(t, w.Body, &index)
	if !index.RestoreDisabled {
		t.Error("Expected restoreDisabled after switching it off")
	}
}

func TestGetPreferenceDefaults(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/api/preferences/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var settings preferences.Settings
	decodeJSON(t, w.Body, &settings)
	if !settings.FileSaver.RevokeObjectURL {
		t.Error("Expected revokeObjectURL to default to true")
	}
	if settings.FileSaver.KeepInMemory {
		t.Error("Expected keepInMemory to default to false")
	}

	unknown := env.do(http.MethodGet, "/api/preferences/nope", "")
	if unknown.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", unknown.Code)
	}
}

func TestPutPreferenceMergesAndPersists(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodPut, "/api/preferences/settings", `{"fileSaver":{"keepInMemory":true,"revokeObjectURL":true}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", w.Code, w.Body.String())
	}

	var settings preferences.Settings
	decodeJSON(t, w.Body, &settings)
	if !settings.FileSaver.KeepInMemory {
		t.Error("Expected keepInMemory to be updated")
	}

	stored, err := env.db.GetPreference(context.Background(), preferences.SettingsKey)
	if err != nil {
		t.Fatalf("Expected settings to be persisted: %v", err)
	}
	if !strings.Contains(stored, `"keepInMemory":true`) {
		t.Errorf("Expected persisted keepInMemory, got %s", stored)
	}

	// A fresh store restores what was saved.
	reopened, err := preferences.Open(context.Background(), env.db)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !reopened.Settings.Get().FileSaver.KeepInMemory {
		t.Error("Expected reopened settings to keep the update")
	}
}

func TestPutPreferenceRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name     string
		target   string
		body     string
		expected int
	}{
		{name: "Invalid JSON", target: "/api/preferences/settings", body: `{"fileSaver":`, expected: http.StatusBadRequest},
		{name: "Wrong type", target: "/api/preferences/settings", body: `{"fileSaver":"yes"}`, expected: http.StatusBadRequest},
		{name: "Unknown document", target: "/api/preferences/nope", body: `{}`, expected: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPut, tt.target, tt.body)
			if w.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestReadinessFollowsAssetInstall(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 before install, got %d", w.Code)
	}

	if err := env.assets.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	w = env.do(http.MethodGet, "/readyz", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after install, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.registry.Create("active")

	w := env.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 while starting, got %d", w.Code)
	}
	var starting HealthResponse
	decodeJSON(t, w.Body, &starting)
	if starting.Status != statusStarting {
		t.Errorf("Expected status %s, got %s", statusStarting, starting.Status)
	}

	if err := env.assets.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	w = env.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var healthy HealthResponse
	decodeJSON(t, w.Body, &healthy)
	if healthy.Status != statusHealthy {
		t.Errorf("Expected status %s, got %s", statusHealthy, healthy.Status)
	}
	if healthy.Transfers != 1 {
		t.Errorf("Expected 1 transfer, got %d", healthy.Transfers)
	}
	if healthy.CachedAssets != 2 {
		t.Errorf("Expected 2 cached assets, got %d", healthy.CachedAssets)
	}
	if healthy.LastInstall == "" {
		t.Error("Expected lastInstall to be reported")
	}
}

func TestHealthCheckDegradedWithoutDatabase(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if err := env.assets.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	env.db.Close()

	w := env.do(http.MethodGet, "/healthz", "")
	var resp HealthResponse
	decodeJSON(t, w.Body, &resp)
	if resp.Status != statusDegraded {
		t.Errorf("Expected status %s, got %s", statusDegraded, resp.Status)
	}
}

func TestLivenessCheck(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		w := env.do(method, "/livez", "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", method, w.Code)
		}
		if method == http.MethodHead && w.Body.Len() != 0 {
			t.Errorf("Expected empty body for HEAD, got %q", w.Body.String())
		}
	}
}
