package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// client talks to the register REST API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string, timeout time.Duration) *client {
	return &client{base: strings.TrimRight(base, "/"), token: token, http: &http.Client{Timeout: timeout}}
}

type jobStatus struct {
	Status     string `json:"status"`
	ErrorCount int    `json:"errorCount"`
	Errors     []struct {
		VRM        string `json:"vrm,omitempty"`
		Detail     string `json:"detail"`
		LineNumber int    `json:"lineNumber,omitempty"`
	} `json:"errors"`
}

// apiError is a non-2xx response.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}

type jobName struct {
	RegisterJobName string `json:"registerJobName"`
}

func (c *client) submitLicences(ctx context.Context, payload []byte) (string, error) {
	var out jobName
	err := c.do(ctx, http.MethodPost, "/v1/licences", bytes.NewReader(payload), jsonHeader(), &out)
	return out.RegisterJobName, err
}

func (c *client) submitCSV(ctx context.Context, bucket, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"bucket": bucket, "filename": name})
	var out jobName
	err := c.do(ctx, http.MethodPost, "/v1/register-jobs/csv", bytes.NewReader(body), jsonHeader(), &out)
	return out.RegisterJobName, err
}

func (c *client) upload(ctx context.Context, bucket, name, email string, r io.Reader) (string, error) {
	h := http.Header{"Content-Type": []string{"text/csv"}}
	if email != "" {
		h.Set("X-Uploader-Email", email)
	}
	var out jobName
	path := "/v1/uploads/" + url.PathEscape(bucket) + "/" + url.PathEscape(name)
	err := c.do(ctx, http.MethodPut, path, r, h, &out)
	return out.RegisterJobName, err
}

func (c *client) jobStatus(ctx context.Context, name string) (jobStatus, error) {
	var out jobStatus
	err := c.do(ctx, http.MethodGet, "/v1/register-jobs/"+url.PathEscape(name), nil, nil, &out)
	return out, err
}

func (c *client) licences(ctx context.Context, vrm string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/v1/vehicles/"+url.PathEscape(vrm)+"/licences", nil, nil, &out)
	return out, err
}
