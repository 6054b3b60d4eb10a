// internal/publish/wordpress.go
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// Client publishes run results to a WordPress site over XML-RPC
// (wp.newPost). It is an optional, post-run collaborator: publish failures
// never affect the run result itself.
type Client struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates the publishing credentials and returns a client.
func New(cfg config.PublishConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("publish endpoint is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("publish username and password are required")
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("publish"),
	}, nil
}

// PublishResult creates a draft post describing one run and returns the new
// post's id.
func (c *Client) PublishResult(ctx context.Context, url, instruction string, result schemas.Result) (string, error) {
	title := fmt.Sprintf("Run %s: %s", result.RunID[:8], instruction)
	body := renderBody(url, instruction, result)

	payload, err := buildNewPostCall(c.username, c.password, title, body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create publish request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read publish response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("publish endpoint returned %s", resp.Status)
	}

	postID, err := parseNewPostResponse(respBody)
	if err != nil {
		return "", err
	}

	c.logger.Info("Run published.",
		zap.String("run_id", result.RunID),
		zap.String("post_id", postID))
	return postID, nil
}

// buildNewPostCall renders the wp.newPost methodCall document.
func buildNewPostCall(username, password, title, body string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	call := doc.CreateElement("methodCall")
	call.CreateElement("methodName").SetText("wp.newPost")
	params := call.CreateElement("params")

	addParam := func(fill func(value *etree.Element)) {
		value := params.CreateElement("param").CreateElement("value")
		fill(value)
	}
	addParam(func(v *etree.Element) { v.CreateElement("int").SetText("0") }) // blog_id
	addParam(func(v *etree.Element) { v.CreateElement("string").SetText(username) })
	addParam(func(v *etree.Element) { v.CreateElement("string").SetText(password) })
	addParam(func(v *etree.Element) {
		content := v.CreateElement("struct")
		addMember(content, "post_type", "post")
		addMember(content, "post_status", "draft")
		addMember(content, "post_title", title)
		addMember(content, "post_content", body)
	})

	return doc.WriteToBytes()
}

func addMember(parent *etree.Element, name, value string) {
	member := parent.CreateElement("member")
	member.CreateElement("name").SetText(name)
	member.CreateElement("value").CreateElement("string").SetText(value)
}

// parseNewPostResponse extracts the post id or decodes an XML-RPC fault.
func parseNewPostResponse(raw []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return "", fmt.Errorf("publish response is not XML: %w", err)
	}

	if fault := doc.FindElement("//fault"); fault != nil {
		code := ""
		message := ""
		for _, member := range fault.FindElements(".//member") {
			name := member.SelectElement("name")
			if name == nil {
				continue
			}
			value := textOfValue(member.SelectElement("value"))
			switch name.Text() {
			case "faultCode":
				code = value
			case "faultString":
				message = value
			}
		}
		return "", fmt.Errorf("publish fault %s: %s", code, message)
	}

	value := doc.FindElement("//methodResponse/params/param/value")
	if value == nil {
		return "", fmt.Errorf("publish response missing post id")
	}
	id := strings.TrimSpace(textOfValue(value))
	if id == "" {
		return "", fmt.Errorf("publish response missing post id")
	}
	return id, nil
}

// textOfValue reads the text of a <value>, descending into its typed child
// when present.
func textOfValue(value *etree.Element) string {
	if value == nil {
		return ""
	}
	for _, child := range value.ChildElements() {
		return child.Text()
	}
	return value.Text()
}

// renderBody formats a run result as simple post HTML.
func renderBody(url, instruction string, result schemas.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p><strong>URL:</strong> %s</p>\n", html.EscapeString(url))
	fmt.Fprintf(&b, "<p><strong>Instruction:</strong> %s</p>\n", html.EscapeString(instruction))
	fmt.Fprintf(&b, "<p><strong>Outcome:</strong> success=%t, steps=%d, reason=%s</p>\n",
		result.Success, result.StepsTaken, html.EscapeString(result.Reason))

	if len(result.Data) > 0 {
		if data, err := json.MarshalIndent(result.Data, "", "  "); err == nil {
			fmt.Fprintf(&b, "<pre>%s</pre>\n", html.EscapeString(string(data)))
		}
	}
	if len(result.Meta.Hints) > 0 {
		b.WriteString("<ul>\n")
		for _, hint := range result.Meta.Hints {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(hint))
		}
		b.WriteString("</ul>\n")
	}
	return b.String()
}
