package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestUploadMethod(t *testing.T) {
	if got := uploadMethod(tusThreshold - 1); got != "single" {
		t.Errorf("just under threshold = %q, want single", got)
	}
	if got := uploadMethod(tusThreshold); got != "tus" {
		t.Errorf("at threshold = %q, want tus", got)
	}
	if got := uploadMethod(1); got != "single" {
		t.Errorf("tiny file = %q, want single", got)
	}
}

func TestTUSMetadata(t *testing.T) {
	meta := tusMetadata("videos", "brand/clip.mp4", "video/mp4")

	for _, pair := range strings.Split(meta, ",") {
		parts := strings.SplitN(pair, " ", 2)
		if len(parts) != 2 {
			t.Fatalf("malformed metadata pair %q", pair)
		}
		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			t.Fatalf("pair %q value is not base64: %v", pair, err)
		}
		switch parts[0] {
		case "bucketName":
			if string(decoded) != "videos" {
				t.Errorf("bucketName = %q", decoded)
			}
		case "objectName":
			if string(decoded) != "brand/clip.mp4" {
				t.Errorf("objectName = %q", decoded)
			}
		case "contentType":
			if string(decoded) != "video/mp4" {
				t.Errorf("contentType = %q", decoded)
			}
		}
	}
}

func TestPublicURL(t *testing.T) {
	c, err := New("https://proj.supabase.co/", "key", "videos")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://proj.supabase.co/storage/v1/object/public/videos/brand/clip.mp4"
	if got := c.PublicURL("brand/clip.mp4"); got != want {
		t.Errorf("PublicURL = %q, want %q", got, want)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New("", "key", "videos"); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := New("https://proj.supabase.co", "", "videos"); err == nil {
		t.Error("expected error for missing key")
	}
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, bytes.Repeat([]byte("v"), size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadSingle(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		if r.Header.Get("x-upsert") != "true" {
			t.Errorf("missing x-upsert header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "key", "videos")
	if err != nil {
		t.Fatal(err)
	}

	local := writeTempFile(t, 100)
	url, err := c.Upload(context.Background(), local, "brand/clip.mp4")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotPath != "/storage/v1/object/videos/brand/clip.mp4" {
		t.Errorf("upload path = %q", gotPath)
	}
	if len(gotBody) != 100 {
		t.Errorf("uploaded %d bytes, want 100", len(gotBody))
	}
	if !strings.HasSuffix(url, "/storage/v1/object/public/videos/brand/clip.mp4") {
		t.Errorf("public url = %q", url)
	}
}

func TestUploadTUSChunks(t *testing.T) {
	var patches int
	var received int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("Upload-Metadata") == "" {
				t.Error("create request missing Upload-Metadata")
			}
			w.Header().Set("Location", "/storage/v1/upload/resumable/session-1")
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			patches++
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			if offset != received {
				t.Errorf("patch offset %d, server expected %d", offset, received)
			}
			body, _ := io.ReadAll(r.Body)
			received += int64(len(body))
			w.Header().Set("Upload-Offset", strconv.FormatInt(received, 10))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, "key", "videos")
	if err != nil {
		t.Fatal(err)
	}

	// 2 full chunks plus a 1KiB remainder.
	size := 2*tusChunkSize + 1024
	local := writeTempFile(t, size)

	if _, err := c.Upload(context.Background(), local, "brand/big.mp4"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if patches != 3 {
		t.Errorf("uploaded in %d chunks, want 3", patches)
	}
	if received != int64(size) {
		t.Errorf("server received %d bytes, want %d", received, size)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	c, err := New("https://proj.supabase.co", "key", "videos")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Upload(context.Background(), writeTempFile(t, 0), "x.mp4"); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestDelete(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "key", "videos")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(context.Background(), "brand/clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/storage/v1/object/videos/brand/clip.mp4" {
		t.Errorf("delete sent %s %s", gotMethod, gotPath)
	}
}
