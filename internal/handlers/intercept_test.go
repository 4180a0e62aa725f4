package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestPingAnsweredLocally(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, target := range []string{"/ping", "/some/nested/ping", "/worker.js/ping"} {
		w := env.do(http.MethodGet, target, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", target, w.Code)
		}
		if w.Body.String() != "Success." {
			t.Errorf("%s: expected body Success., got %q", target, w.Body.String())
		}
	}

	if hits := env.upstreamHits.Load(); hits != 0 {
		t.Errorf("Expected ping to skip the network, got %d upstream hits", hits)
	}
}

func TestUnknownTransferReturns404WithoutNetwork(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	targets := []string{
		"/downloader?id=missing",
		"/app/downloader?id=missing",
		"/downloader?id=",
	}
	for _, target := range targets {
		w := env.do(http.MethodGet, target, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", target, w.Code)
		}
	}

	if hits := env.upstreamHits.Load(); hits != 0 {
		t.Errorf("Expected no upstream requests, got %d", hits)
	}
}

func TestDownloadStreamsFinishedTransfer(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.finished(t, "t1", "PK", "\x03\x04", "rest")

	w := env.do(http.MethodGet, "/downloader?id=t1", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Expected application/zip, got %s", ct)
	}
	expected := `attachment; filename="ConvertWeb-Zip-1700000000123.zip"`
	if cd := w.Header().Get("Content-Disposition"); cd != expected {
		t.Errorf("Expected %s, got %s", expected, cd)
	}
	if w.Body.String() != "PK\x03\x04rest" {
		t.Errorf("Expected chunks in order, got %q", w.Body.String())
	}
	if _, ok := env.registry.Get("t1"); ok {
		t.Error("Expected consumed transfer to be removed")
	}

	again := env.do(http.MethodGet, "/downloader?id=t1", "")
	if again.Code != http.StatusNotFound {
		t.Errorf("Expected second download to get 404, got %d", again.Code)
	}
}

func TestLastMarkerNamesTheTransfer(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.finished(t, "real", "data")

	w := env.do(http.MethodGet, "/downloader?id=decoy/downloader?id=real", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "data" {
		t.Errorf("Expected body data, got %q", w.Body.String())
	}
}

func TestDownloadTakesPrecedenceOverPing(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.finished(t, "abc/ping", "zipdata")

	w := env.do(http.MethodGet, "/downloader?id=abc/ping", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "zipdata" {
		t.Errorf("Expected the transfer body, got %q", w.Body.String())
	}

	// The transfer is consumed now, so the same URL is a ping.
	w = env.do(http.MethodGet, "/downloader?id=abc/ping", "")
	if w.Code != http.StatusOK || w.Body.String() != "Success." {
		t.Errorf("Expected ping response, got %d %q", w.Code, w.Body.String())
	}
}

func TestDownloadAttachesOnlyOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := env.serve(t)
	env.registry.Create("live")

	resp, err := http.Get(srv.URL + "/downloader?id=live")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	second := env.do(http.MethodGet, "/downloader?id=live", "")
	if second.Code != http.StatusNotFound {
		t.Errorf("Expected second attach to get 404, got %d", second.Code)
	}

	env.registry.Close("live")
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Errorf("Reading body failed: %v", err)
	}
}

func TestDownloadStartsBeforeProducerFinishes(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := env.serve(t)
	env.registry.Create("slow")

	// Headers must arrive while the transfer is still open.
	resp, err := http.Get(srv.URL + "/downloader?id=slow")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if info, ok := env.registry.Get("slow"); !ok || info.State != "draining" {
		t.Errorf("Expected draining transfer, got %+v (present=%v)", info, ok)
	}

	chunks := []string{"one-", "two-", "three"}
	go func() {
		for _, c := range chunks {
			_, _ = env.registry.Write(context.Background(), "slow", []byte(c))
			time.Sleep(10 * time.Millisecond)
		}
		env.registry.Close("slow")
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Reading body failed: %v", err)
	}
	if string(body) != strings.Join(chunks, "") {
		t.Errorf("Expected %q, got %q", strings.Join(chunks, ""), body)
	}
	waitFor(t, "transfer removal", func() bool { return env.registry.Len() == 0 })
}

func TestClientDisconnectAbortsTransfer(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := env.serve(t)
	env.registry.Create("gone")

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/downloader?id=gone", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	cancel()
	resp.Body.Close()

	waitFor(t, "detached transfer removal", func() bool { return env.registry.Len() == 0 })

	ok, _ := env.registry.Write(context.Background(), "gone", []byte("late"))
	if ok {
		t.Error("Expected writes after detach to be dropped")
	}
}

func TestInterceptFallsThroughToAssetCache(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/app.js", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "console.log('app')" {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
	if hits := env.upstreamHits.Load(); hits != 1 {
		t.Errorf("Expected one upstream request, got %d", hits)
	}

	// Upstream down: the copy cached on the first read is served.
	env.upstream.Close()
	w = env.do(http.MethodGet, "/app.js", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected cached copy with status 200, got %d", w.Code)
	}
	if w.Body.String() != "console.log('app')" {
		t.Errorf("Unexpected cached body %q", w.Body.String())
	}
}
