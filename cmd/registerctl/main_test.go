package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("PHV_TOKEN", "")
	return filepath.Join(dir, "phv-register")
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func Test_token_SaveLoad(t *testing.T) {
	base := withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	if !strings.HasPrefix(tokenPath(), base) {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}

	t.Setenv("PHV_TOKEN", "from-env")
	if tok, _ := loadToken(); tok != "from-env" {
		t.Fatalf("env token must win, got %q", tok)
	}
}

func Test_login_StoresExpiry(t *testing.T) {
	_ = withTmpConfig(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	var out bytes.Buffer
	if err := run(context.Background(), []string{"login", "-token", signed(t, exp)}, nil, &out); err != nil {
		t.Fatalf("login: %v", err)
	}
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil || !tf.ExpiresAt.Equal(exp) {
		t.Fatalf("expiry not stored: %+v %v", tf, err)
	}

	if err := run(context.Background(), []string{"login", "-token", "garbage"}, nil, &out); err == nil {
		t.Fatalf("want error for malformed token")
	}
}

func Test_usage(t *testing.T) {
	_ = withTmpConfig(t)
	for _, args := range [][]string{nil, {"login"}, {"-bogus"}} {
		err := run(context.Background(), args, nil, io.Discard)
		if !errors.Is(err, errUsage) {
			t.Fatalf("%v: want usage error, got %v", args, err)
		}
	}
}

func newAPI(t *testing.T, h http.HandlerFunc) []string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("PHV_TOKEN", "tok")
	return []string{"-addr", srv.URL}
}

func Test_submit_FromStdin(t *testing.T) {
	_ = withTmpConfig(t)
	var gotAuth, gotBody string
	args := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/licences" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"registerJobName":"job-1"}`)
	})

	var out bytes.Buffer
	payload := `{"vehicleDetails":[]}`
	if err := run(context.Background(), append(args, "submit", "-file", "-"), strings.NewReader(payload), &out); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if strings.TrimSpace(out.String()) != "job-1" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if gotAuth != "Bearer tok" || gotBody != payload {
		t.Fatalf("request mismatch: auth=%q body=%q", gotAuth, gotBody)
	}
}

func Test_submit_ServerError(t *testing.T) {
	_ = withTmpConfig(t)
	args := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = io.WriteString(w, `{"error":"still processing"}`)
	})

	err := run(context.Background(), append(args, "submit", "-file", "-"), strings.NewReader(`{}`), io.Discard)
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotAcceptable || apiErr.Message != "still processing" {
		t.Fatalf("want 406 api error, got %v", err)
	}
}

func Test_upload_SendsFileAndEmail(t *testing.T) {
	_ = withTmpConfig(t)
	var gotPath, gotEmail, gotBody string
	args := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotEmail = r.URL.Path, r.Header.Get("X-Uploader-Email")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"registerJobName":"job-csv"}`)
	})
	file := filepath.Join(t.TempDir(), "leeds.csv")
	if err := os.WriteFile(file, []byte("AB12CD,2024-01-01"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	err := run(context.Background(), append(args, "upload", "-bucket", "uploads", "-file", file, "-email", "u@la.gov"), nil, &out)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/v1/uploads/uploads/leeds.csv" || gotEmail != "u@la.gov" || gotBody != "AB12CD,2024-01-01" {
		t.Fatalf("request mismatch: %q %q %q", gotPath, gotEmail, gotBody)
	}
}

func Test_status_WaitPollsUntilFinished(t *testing.T) {
	_ = withTmpConfig(t)
	var calls atomic.Int32
	args := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/register-jobs/job-1" {
			http.NotFound(w, r)
			return
		}
		status := "RUNNING"
		if calls.Add(1) >= 3 {
			status = "FINISHED_SUCCESS"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "errorCount": 0, "errors": []any{}})
	})

	var out bytes.Buffer
	err := run(context.Background(), append(args, "status", "-job", "job-1", "-wait", "-interval", "1ms"), nil, &out)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("want 3 polls, got %d", calls.Load())
	}
	var st jobStatus
	if err := json.Unmarshal(out.Bytes(), &st); err != nil || st.Status != "FINISHED_SUCCESS" {
		t.Fatalf("unexpected output %q: %v", out.String(), err)
	}
}

func Test_status_NotFound(t *testing.T) {
	_ = withTmpConfig(t)
	args := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := run(context.Background(), append(args, "status", "-job", "nope"), nil, io.Discard)
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
}
