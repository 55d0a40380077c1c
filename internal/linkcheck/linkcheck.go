// Package linkcheck validates article URLs before they are shown to a user: the page must answer
// with a success status and must not be a "soft 404" (an error page served with 200, or a redirect
// to the site's home page). Citation URLs produced by generative engines are often hallucinated,
// so only URLs that pass here may become an opportunity's best URL.
package linkcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is the default per-URL request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; VisibilityGap/1.0)"

// DefaultConcurrency bounds the number of URLs checked at once.
const DefaultConcurrency = 8

// maxBodyBytes bounds how much of a page is read for soft-404 detection.
const maxBodyBytes = 512 << 10

// Result is the verdict for one URL.
type Result struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Live       bool   `json:"live"`
	Reason     string `json:"reason,omitempty"`
}

// Error represents a failure to check a URL at all (as opposed to a dead link).
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("link check error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("link check error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the checker.
type Options struct {
	Timeout     time.Duration
	UserAgent   string
	Concurrency int
	Headers     map[string]string
}

// DefaultOptions returns sensible defaults for checking.
func DefaultOptions() *Options {
	return &Options{
		Timeout:     DefaultTimeout,
		UserAgent:   DefaultUserAgent,
		Concurrency: DefaultConcurrency,
	}
}

// Checker validates URLs over HTTP.
type Checker struct {
	client *http.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a Checker. A nil opts uses DefaultOptions.
func New(opts *Options, logger zerolog.Logger) *Checker {
	o := *DefaultOptions()
	if opts != nil {
		if opts.Timeout > 0 {
			o.Timeout = opts.Timeout
		}
		if opts.UserAgent != "" {
			o.UserAgent = opts.UserAgent
		}
		if opts.Concurrency > 0 {
			o.Concurrency = opts.Concurrency
		}
		o.Headers = opts.Headers
	}
	return &Checker{
		client: &http.Client{Timeout: o.Timeout},
		opts:   o,
		logger: logger,
	}
}

// Check decides whether one URL is live. A HEAD request settles hard 404s and non-HTML resources;
// HTML pages and servers that reject HEAD are fetched with GET so the body can be inspected. An
// error is returned only when the request could not be made; dead links are a Result with Live
// false.
func (c *Checker) Check(ctx context.Context, rawURL string) (Result, error) {
	res := Result{URL: rawURL}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		res.Reason = "invalid URL"
		return res, nil
	}

	head, err := c.do(ctx, http.MethodHead, rawURL)
	switch {
	case err != nil && ctx.Err() != nil:
		return res, &Error{URL: rawURL, Message: "check canceled", Cause: ctx.Err()}
	case err != nil:
		c.logger.Debug().Err(err).Str("url", rawURL).Msg("HEAD failed, retrying with GET")
	default:
		_ = head.Body.Close()
		res.StatusCode = head.StatusCode
		res.FinalURL = head.Request.URL.String()
		if head.StatusCode == http.StatusNotFound || head.StatusCode == http.StatusGone {
			res.Reason = fmt.Sprintf("HTTP status %d", head.StatusCode)
			return res, nil
		}
		if success(head.StatusCode) && !isHTML(head.Header) {
			return c.judge(res, parsed, head, nil), nil
		}
	}

	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return res, &Error{URL: rawURL, Message: "check canceled", Cause: ctx.Err()}
		}
		res.Reason = "HTTP request failed"
		c.logger.Debug().Err(err).Str("url", rawURL).Msg("link unreachable")
		return res, nil
	}
	defer func() { _ = resp.Body.Close() }()

	res.StatusCode = resp.StatusCode
	res.FinalURL = resp.Request.URL.String()
	return c.judge(res, parsed, resp, resp.Body), nil
}

func (c *Checker) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}
	return c.client.Do(req)
}

// judge applies the status, redirect and soft-404 rules. body is nil when only headers were fetched.
func (c *Checker) judge(res Result, requested *url.URL, resp *http.Response, body io.Reader) Result {
	if !success(resp.StatusCode) {
		res.Reason = fmt.Sprintf("HTTP status %d", resp.StatusCode)
		return res
	}
	if redirectedToRoot(requested, resp.Request.URL) {
		res.Reason = "redirected to home page"
		return res
	}
	if body != nil && isHTML(resp.Header) {
		page, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
		if err != nil {
			res.Reason = "failed to read response body"
			return res
		}
		if reason := softNotFound(string(page)); reason != "" {
			res.Reason = reason
			return res
		}
	}
	res.Live = true
	return res
}

func success(code int) bool {
	return code >= 200 && code < 300
}

func isHTML(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "html")
}

// ValidateURLs checks urls concurrently and returns the live ones in input order. Duplicates are
// checked once. Only a canceled context is an error.
func (c *Checker) ValidateURLs(ctx context.Context, urls []string) ([]string, error) {
	results, err := c.CheckAll(ctx, urls)
	if err != nil {
		return nil, err
	}
	valid := make([]string, 0, len(results))
	for _, r := range results {
		if r.Live {
			valid = append(valid, r.URL)
		}
	}
	return valid, nil
}

// CheckAll checks every distinct URL and returns one Result per distinct URL in input order.
func (c *Checker) CheckAll(ctx context.Context, urls []string) ([]Result, error) {
	seen := make(map[string]bool, len(urls))
	var distinct []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		distinct = append(distinct, u)
	}

	results := make([]Result, len(distinct))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, u := range distinct {
		g.Go(func() error {
			res, err := c.Check(gctx, u)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				res = Result{URL: u, Reason: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func redirectedToRoot(requested, final *url.URL) bool {
	if final == nil {
		return false
	}
	requestedPath := strings.Trim(requested.Path, "/")
	finalPath := strings.Trim(final.Path, "/")
	return requestedPath != "" && finalPath == ""
}

// notFoundPhrases identify error pages served with a success status wherever they appear in the
// title or main heading.
var notFoundPhrases = []string{
	"page not found",
	"página no encontrada",
	"pagina no encontrada",
	"la página no existe",
	"la pagina no existe",
	"no se ha encontrado la página",
	"no se ha encontrado la pagina",
	"error 404",
}

// notFoundTitles only count when they are the whole title or heading.
var notFoundTitles = []string{
	"not found",
	"no encontrado",
	"no encontrada",
	"error",
}

// softNotFound inspects the page title and main heading for error page markers.
func softNotFound(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	candidates := []string{
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	}
	for _, text := range candidates {
		text = strings.ToLower(strings.TrimSpace(text))
		if text != "" && looksNotFound(text) {
			return "soft 404: " + text
		}
	}
	return ""
}

func looksNotFound(text string) bool {
	for _, phrase := range notFoundPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	bare := strings.Trim(text, " .!¡-|:")
	for _, title := range notFoundTitles {
		if bare == title {
			return true
		}
	}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == '-' || r == '|' || r == ':' }) {
		if word == "404" {
			return true
		}
	}
	return false
}
