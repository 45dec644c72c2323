// SPDX-License-Identifier: Apache-2.0
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
)

// dispatchAPI performs the declarative HTTP call of an api-strategy
// capability. Params pass through the spec's ParamMapping rename table; GET
// requests carry them as query parameters, everything else as a JSON body.
func (e *Executor) dispatchAPI(ctx context.Context, spec *capability.Spec, params map[string]any) (map[string]any, string, error) {
	cfg := spec.API

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = e.config.HTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mapped := mapParams(params, cfg.ParamMapping)
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		u, parseErr := url.Parse(cfg.URL)
		if parseErr != nil {
			return nil, "", errors.New(errors.CodeExecutionError,
				fmt.Sprintf("capability %q has invalid api url", spec.Name), parseErr)
		}
		q := u.Query()
		for k, v := range mapped {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		body, marshalErr := json.Marshal(mapped)
		if marshalErr != nil {
			return nil, "", errors.New(errors.CodeExecutionError, "failed to encode request body", marshalErr)
		}
		req, err = http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, "", errors.New(errors.CodeExecutionError, "failed to build api request", err)
	}

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.AuthHeader != "" {
		// The auth header value comes from the environment, never the spec.
		envKey := "TASKWEAVE_API_TOKEN_" + strings.ToUpper(strings.ReplaceAll(spec.Name, "-", "_"))
		if token := os.Getenv(envKey); token != "" {
			req.Header.Set(cfg.AuthHeader, token)
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", errors.New(errors.CodeTimeout,
				fmt.Sprintf("api call for %s exceeded %s", spec.Name, timeout), err)
		}
		return nil, "", errors.New(errors.CodeExecutionError,
			fmt.Sprintf("api call for %s failed", spec.Name), err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", apiStatusError(spec.Name, resp.StatusCode, body)
	}

	output := map[string]any{"status_code": resp.StatusCode}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		output["response"] = parsed
	} else if len(body) > 0 {
		output["response"] = string(body)
	}
	return output, fmt.Sprintf("%s completed", spec.Name), nil
}

func apiStatusError(name string, status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	code := errors.CodeExecutionError
	recoverable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errors.CodePermissionDenied
	case status == http.StatusNotFound:
		code = errors.CodeResourceUnavailable
	case status == http.StatusTooManyRequests || status >= 500:
		recoverable = true
	}

	err := errors.New(code, fmt.Sprintf("api call for %s returned %d", name, status), nil).
		WithContext("status", status).
		WithContext("body", snippet)
	if code == errors.CodeExecutionError {
		err = err.WithRecoverable(recoverable)
	}
	return err
}

func mapParams(params map[string]any, mapping map[string]string) map[string]any {
	if len(mapping) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if renamed, ok := mapping[k]; ok {
			out[renamed] = v
			continue
		}
		out[k] = v
	}
	return out
}
