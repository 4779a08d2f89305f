package prompt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxTemplateBytes bounds a fetched template
const maxTemplateBytes = 256 << 10

// RemoteProvider fetches templates named <kind>.txt below a base URL, for
// teams that keep prompts in a shared repository or bucket
type RemoteProvider struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewRemoteProvider creates a provider for baseURL
func NewRemoteProvider(baseURL string, timeout time.Duration) *RemoteProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: "rebutqc",
	}
}

// Template fetches the template for kind
func (p *RemoteProvider) Template(kind Kind) (string, string, error) {
	url := p.baseURL + "/" + string(kind) + ".txt"

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return "", url, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/plain,*/*;q=0.8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", url, fmt.Errorf("fetch %s template: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", url, fmt.Errorf("fetch %s template: unexpected status %s", kind, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateBytes+1))
	if err != nil {
		return "", url, fmt.Errorf("read %s template: %w", kind, err)
	}
	if len(body) > maxTemplateBytes {
		return "", url, fmt.Errorf("%s template exceeds %d bytes", kind, maxTemplateBytes)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", url, fmt.Errorf("%s template %s is empty", kind, url)
	}
	return string(body), url, nil
}
