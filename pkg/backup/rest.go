/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	restAPIPrefix   = "/api/v1"
	jsonAPIMimeType = "application/vnd.api+json"
)

// jsonAPIDocument is the JSON:API-style envelope the secondary protocol
// wraps every response in.
type jsonAPIDocument struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Status string `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

type jsonAPIResource struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

// restClient speaks the secondary protocol: plain HTTP resources under
// /api/v1, authenticated with the same rotating token carried as a Bearer
// header. It shares the RPC client's lock and token path, because a REST
// exchange consumes (and can outdate) the same visa.
type restClient struct {
	client *Client
	base   string
}

func newRESTClient(client *Client) *restClient {
	return &restClient{
		client: client,
		base:   strings.TrimRight(client.cfg.RESTEndpoint, "/"),
	}
}

// List fetches a filtered collection, e.g. List(ctx, "draas/recovery-status",
// map[string]string{"device_id": "42"}).
func (r *restClient) List(ctx context.Context, resource string, filters map[string]string) ([]jsonAPIResource, error) {
	var resources []jsonAPIResource

	err := r.client.withLock(ctx, func() error {
		doc, err := retryWithPolicy(ctx, r.client.policy, func() (*jsonAPIDocument, error) {
			return r.get(ctx, resource, filters)
		})
		if err != nil {
			return err
		}

		if len(doc.Data) == 0 {
			return nil
		}

		if err := json.Unmarshal(doc.Data, &resources); err != nil {
			// Single-resource responses are an object, not an array.
			var single jsonAPIResource
			if err := json.Unmarshal(doc.Data, &single); err != nil {
				return fmt.Errorf("decode resource list: %w", err)
			}

			resources = []jsonAPIResource{single}
		}

		return nil
	})

	return resources, err
}

// IssueTemporaryURL asks the service to sign a short-lived download URL for
// a stored binary artifact.
func (r *restClient) IssueTemporaryURL(ctx context.Context, fileID string) (string, error) {
	var signed string

	err := r.client.withLock(ctx, func() error {
		doc, err := retryWithPolicy(ctx, r.client.policy, func() (*jsonAPIDocument, error) {
			return r.post(ctx, "files/"+url.PathEscape(fileID)+"/temporary-url", nil)
		})
		if err != nil {
			return err
		}

		var result struct {
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		}

		if len(doc.Data) > 0 {
			if err := json.Unmarshal(doc.Data, &result); err != nil {
				return fmt.Errorf("decode temporary URL: %w", err)
			}
		}

		if result.Attributes.URL == "" {
			return errNoTemporaryURL
		}

		signed = result.Attributes.URL

		return nil
	})

	return signed, err
}

// FetchArtifact downloads the raw bytes behind a signed temporary URL. No
// auth header: the signature in the URL is the credential.
func (r *restClient) FetchArtifact(ctx context.Context, signedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}

	resp, err := r.client.httpc.Do(req)
	if err != nil {
		return nil, &ProtocolError{Method: "FetchArtifact", Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{
			Method:  "FetchArtifact",
			Status:  resp.StatusCode,
			Message: "artifact download failed",
		}
	}

	return io.ReadAll(resp.Body)
}

func (r *restClient) get(ctx context.Context, resource string, filters map[string]string) (*jsonAPIDocument, error) {
	endpoint := r.base + restAPIPrefix + "/" + resource

	if len(filters) > 0 {
		query := url.Values{}
		for key, value := range filters {
			query.Set(fmt.Sprintf("filter[%s]", key), value)
		}

		endpoint += "?" + query.Encode()
	}

	return r.do(ctx, http.MethodGet, endpoint, nil)
}

func (r *restClient) post(ctx context.Context, resource string, body io.Reader) (*jsonAPIDocument, error) {
	return r.do(ctx, http.MethodPost, r.base+restAPIPrefix+"/"+resource, body)
}

// do performs one authenticated REST exchange. Caller must hold the lock.
func (r *restClient) do(ctx context.Context, method, endpoint string, body io.Reader) (*jsonAPIDocument, error) {
	visa, err := r.client.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+visa)
	req.Header.Set("Accept", jsonAPIMimeType)

	if body != nil {
		req.Header.Set("Content-Type", jsonAPIMimeType)
	}

	resp, err := r.client.httpc.Do(req)
	if err != nil {
		return nil, &ProtocolError{Method: method + " " + endpoint, Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if invErr := r.client.tokens.Invalidate(ctx); invErr != nil {
			r.client.logger.Warn().Err(invErr).Msg("Failed to invalidate token")
		}

		return nil, &AuthError{Message: restErrorMessage(raw, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &ProtocolError{
			Method:  method + " " + endpoint,
			Status:  resp.StatusCode,
			Message: restErrorMessage(raw, resp.StatusCode),
		}
	}

	var doc jsonAPIDocument
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	return &doc, nil
}

// restErrorMessage pulls the first error detail out of a JSON:API error
// document, falling back to the HTTP status.
func restErrorMessage(raw []byte, status int) string {
	var doc jsonAPIDocument
	if err := json.Unmarshal(raw, &doc); err == nil && len(doc.Errors) > 0 {
		first := doc.Errors[0]
		if first.Detail != "" {
			return first.Detail
		}

		if first.Title != "" {
			return first.Title
		}
	}

	return http.StatusText(status)
}

// errIsNotFound reports whether the error is a REST 404.
func errIsNotFound(err error) bool {
	var protoErr *ProtocolError

	return errors.As(err, &protoErr) && protoErr.Status == http.StatusNotFound
}
