// internal/diagnose/diagnose.go
package diagnose

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
)

// Failure kinds reported to the caller.
const (
	KindDNS     = "dns_failure"
	KindTLS     = "tls_failure"
	KindRefused = "connection_refused"
	KindTimeout = "timeout"
	KindHTTP4xx = "http_4xx"
	KindHTTP5xx = "http_5xx"
	KindUnknown = "unknown"
)

const (
	probeTimeout   = 10 * time.Second
	probeBodyLimit = 64 * 1024
)

// Report is the operator-facing classification of a navigation failure.
type Report struct {
	Kind              string   `json:"kind"`
	Message           string   `json:"message"`
	StatusCode        int      `json:"status_code,omitempty"`
	SuggestedCommands []string `json:"suggested_commands,omitempty"`
}

// Classifier turns a navigation error into a Report, optionally confirming
// the failure with a lightweight HTTP probe outside the browser.
type Classifier struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClassifier builds a classifier with its own probe client.
func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{
		httpClient: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger.Named("diagnose"),
	}
}

// Diagnose classifies navErr, probing the URL over plain HTTP when the error
// string alone is inconclusive.
func (c *Classifier) Diagnose(ctx context.Context, rawURL string, navErr error) Report {
	if report, conclusive := classifyError(navErr); conclusive {
		report.SuggestedCommands = suggestions(report, rawURL)
		return report
	}

	report := c.probe(ctx, rawURL, navErr)
	report.SuggestedCommands = suggestions(report, rawURL)
	return report
}

// classifyError matches the well-known failure shapes without touching the
// network. The second return is false when a probe should confirm.
func classifyError(navErr error) (Report, bool) {
	if navErr == nil {
		return Report{Kind: KindUnknown, Message: "navigation failed with no error detail"}, true
	}

	var dnsErr *net.DNSError
	if errors.As(navErr, &dnsErr) {
		return Report{Kind: KindDNS, Message: fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name)}, true
	}

	msg := strings.ToLower(navErr.Error())
	switch {
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "name_not_resolved"):
		return Report{Kind: KindDNS, Message: "DNS resolution failed: " + navErr.Error()}, true
	case strings.Contains(msg, "x509") || strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return Report{Kind: KindTLS, Message: "TLS handshake failed: " + navErr.Error()}, true
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection_refused"):
		return Report{Kind: KindRefused, Message: "connection refused: " + navErr.Error()}, true
	case errors.Is(navErr, context.DeadlineExceeded) || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed_out"):
		return Report{Kind: KindTimeout, Message: "navigation timed out: " + navErr.Error()}, true
	}
	return Report{Kind: KindUnknown, Message: navErr.Error()}, false
}

// probe fetches the URL directly to distinguish an HTTP-level rejection from
// a browser-side problem. The body is decompressed just far enough to attach
// a readable excerpt to the report.
func (c *Classifier) probe(ctx context.Context, rawURL string, navErr error) Report {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Report{Kind: KindUnknown, Message: navErr.Error()}
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The probe failed the same way the browser did; re-classify its
		// error, which is usually more specific than the browser's.
		report, _ := classifyError(err)
		return report
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		c.logger.Debug("Probe succeeded where the browser failed.",
			zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return Report{
			Kind:       KindUnknown,
			Message:    fmt.Sprintf("browser navigation failed (%v) but a direct request returned %d; the site may be blocking automation", navErr, resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	kind := KindHTTP4xx
	if resp.StatusCode >= 500 {
		kind = KindHTTP5xx
	}
	excerpt := readBodyExcerpt(resp)
	message := fmt.Sprintf("server returned %s", resp.Status)
	if excerpt != "" {
		message += ": " + excerpt
	}
	return Report{Kind: kind, Message: message, StatusCode: resp.StatusCode}
}

// readBodyExcerpt returns a short plain-text slice of the response body,
// transparently inflating gzip and brotli encodings.
func readBodyExcerpt(resp *http.Response) string {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return ""
		}
		defer zr.Close()
		reader = zr
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, probeBodyLimit))
	if err != nil && len(body) == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(stripTags(string(body))), " ")
	if len(text) > 160 {
		text = text[:160]
	}
	return text
}

// stripTags removes markup so the excerpt reads as prose.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// suggestions maps a report to concrete retry commands for the caller.
func suggestions(report Report, rawURL string) []string {
	switch report.Kind {
	case KindDNS:
		return []string{
			fmt.Sprintf("dig +short %s", hostOf(rawURL)),
			"check the URL spelling or try the www. variant",
		}
	case KindTLS:
		return []string{
			fmt.Sprintf("webpilot run --url %s --ignore-tls-errors", rawURL),
			fmt.Sprintf("openssl s_client -connect %s:443 -servername %s", hostOf(rawURL), hostOf(rawURL)),
		}
	case KindRefused:
		return []string{
			fmt.Sprintf("curl -v %s", rawURL),
			"the service may be down or firewalled; verify the port",
		}
	case KindTimeout:
		return []string{
			fmt.Sprintf("webpilot run --url %s --navigation-timeout 90s", rawURL),
		}
	case KindHTTP4xx:
		if report.StatusCode == http.StatusForbidden || report.StatusCode == http.StatusTooManyRequests {
			return []string{
				fmt.Sprintf("webpilot run --url %s --proxy-rotate", rawURL),
				"the site is rejecting this client; rotate the exit address or slow down",
			}
		}
		return []string{fmt.Sprintf("curl -I %s", rawURL)}
	case KindHTTP5xx:
		return []string{"the server is erroring; retry later", fmt.Sprintf("curl -I %s", rawURL)}
	default:
		return []string{fmt.Sprintf("curl -v %s", rawURL)}
	}
}

func hostOf(rawURL string) string {
	trimmed := rawURL
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	if i := strings.IndexAny(trimmed, "/:?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
