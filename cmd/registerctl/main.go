// Command registerctl is a CLI client for the PHV register API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "phv-register")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "phv-register")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	if v := os.Getenv("PHV_TOKEN"); v != "" {
		return v, nil
	}
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", errors.New("no token (run login first or set PHV_TOKEN)")
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp without verifying the signature; the server does that.
func tokenExpiry(tok string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Now().Add(24 * time.Hour), nil
	}
	return claims.ExpiresAt.Time, nil
}

// ---- utils ----

func readAll(stdin io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

const usageText = `registerctl CLI
Usage:
  registerctl [-addr URL] <cmd> [args]

Commands:
  version
  login       -token <jwt>                          (saves token)
  submit      -file <payload.json|->                (POST /v1/licences)
  upload      -bucket <b> -file <file.csv> [-email <addr>]
  submit-csv  -bucket <b> -name <file.csv>          (file already stored)
  status      -job <name> [-wait] [-interval 2s]
  licences    -vrm <vrm>
`

var (
	version   = "dev"
	buildDate = "unknown"
)

// errUsage makes main print the usage text.
var errUsage = errors.New("usage")

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run dispatches subcommands; it is main without process exits.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	global := flag.NewFlagSet("registerctl", flag.ContinueOnError)
	addr := global.String("addr", envOr("PHV_ADDR", "http://localhost:8080"), "server base URL")
	timeout := global.Duration("timeout", 30*time.Second, "request timeout")
	global.SetOutput(io.Discard)
	if err := global.Parse(args); err != nil || global.NArg() < 1 {
		return errUsage
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(stdout, "registerctl %s (%s)\n", version, buildDate)
		return nil
	}
	if cmd == "login" {
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		tok := fs.String("token", "", "bearer token (JWT)")
		if err := fs.Parse(rest); err != nil || *tok == "" {
			return fmt.Errorf("%w: need -token", errUsage)
		}
		exp, err := tokenExpiry(*tok)
		if err != nil {
			return err
		}
		if err := saveToken(*tok, exp); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil
	}

	token, err := loadToken()
	if err != nil {
		return err
	}
	c := newClient(*addr, token, *timeout)

	switch cmd {
	case "submit":
		fs := flag.NewFlagSet("submit", flag.ContinueOnError)
		file := fs.String("file", "", "payload file ('-'=stdin)")
		if err := fs.Parse(rest); err != nil || *file == "" {
			return fmt.Errorf("%w: need -file", errUsage)
		}
		body, err := readAll(stdin, *file)
		if err != nil {
			return err
		}
		name, err := c.submitLicences(ctx, body)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, name)

	case "upload":
		fs := flag.NewFlagSet("upload", flag.ContinueOnError)
		bucket := fs.String("bucket", "", "bucket")
		file := fs.String("file", "", "CSV file")
		email := fs.String("email", "", "address notified when the job finishes")
		if err := fs.Parse(rest); err != nil || *bucket == "" || *file == "" {
			return fmt.Errorf("%w: need -bucket and -file", errUsage)
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		name, err := c.upload(ctx, *bucket, filepath.Base(*file), *email, f)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, name)

	case "submit-csv":
		fs := flag.NewFlagSet("submit-csv", flag.ContinueOnError)
		bucket := fs.String("bucket", "", "bucket")
		name := fs.String("name", "", "stored file name")
		if err := fs.Parse(rest); err != nil || *bucket == "" || *name == "" {
			return fmt.Errorf("%w: need -bucket and -name", errUsage)
		}
		job, err := c.submitCSV(ctx, *bucket, *name)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, job)

	case "status":
		fs := flag.NewFlagSet("status", flag.ContinueOnError)
		job := fs.String("job", "", "register job name")
		wait := fs.Bool("wait", false, "poll until the job finishes")
		interval := fs.Duration("interval", 2*time.Second, "poll interval")
		if err := fs.Parse(rest); err != nil || *job == "" {
			return fmt.Errorf("%w: need -job", errUsage)
		}
		st, err := c.jobStatus(ctx, *job)
		for err == nil && *wait && isActive(st.Status) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*interval):
			}
			st, err = c.jobStatus(ctx, *job)
		}
		if err != nil {
			return err
		}
		printJSON(stdout, st)

	case "licences":
		fs := flag.NewFlagSet("licences", flag.ContinueOnError)
		vrm := fs.String("vrm", "", "vehicle registration mark")
		if err := fs.Parse(rest); err != nil || strings.TrimSpace(*vrm) == "" {
			return fmt.Errorf("%w: need -vrm", errUsage)
		}
		out, err := c.licences(ctx, *vrm)
		if err != nil {
			return err
		}
		printJSON(stdout, out)

	default:
		return errUsage
	}
	return nil
}

func isActive(status string) bool { return status == "STARTING" || status == "RUNNING" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
