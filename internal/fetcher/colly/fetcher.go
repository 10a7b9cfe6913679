// Package collyfetcher implements a size-bounded avatar fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Accept    string
	Timeout   time.Duration
	MaxBytes  int64
}

// Fetcher implements avatar.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the collector callbacks observed for one request.
type fetchState struct {
	payload    avatar.Payload
	received   bool
	statusCode int
	exceeded   bool
	err        error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Accept == "" {
		cfg.Accept = avatar.DefaultAccept
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = avatar.MaxDownloadBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	// The backend client is shared by clones, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single bounded HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request avatar.FetchRequest) (avatar.Payload, error) {
	maxBytes := request.MaxBytes
	if maxBytes <= 0 {
		maxBytes = f.cfg.MaxBytes
	}
	state := &fetchState{}
	collector := f.buildCollector(ctx, request, maxBytes, state)

	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return avatar.Payload{}, &avatar.TransportError{URL: request.URL, Err: err}
	}
	return classify(request.URL, state)
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request avatar.FetchRequest,
	maxBytes int64,
	state *fetchState,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	// One byte past the ceiling is enough to tell "exactly at" from "over".
	collector.MaxBodySize = int(maxBytes + 1)

	f.configureCollectorHooks(collector, request, maxBytes, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request avatar.FetchRequest,
	maxBytes int64,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", f.cfg.Accept)
		f.copyHeaders(request, r)
	})

	hooks.OnResponseHeaders(func(r *colly.Response) {
		state.statusCode = r.StatusCode
		if declared, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64); err == nil && declared > maxBytes {
			state.exceeded = true
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.statusCode = r.StatusCode
		if int64(len(r.Body)) > maxBytes {
			state.exceeded = true
			return
		}
		state.received = true
		state.payload = avatar.Payload{
			Data:        append([]byte(nil), r.Body...),
			ContentType: mediaType(r.Headers.Get("Content-Type")),
			Filename:    dispositionFilename(r.Headers.Get("Content-Disposition")),
			Size:        int64(len(r.Body)),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.statusCode = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && state.err == nil {
			state.err = err
		}
		return nil
	}
}

func classify(url string, state *fetchState) (avatar.Payload, error) {
	switch {
	case state.exceeded:
		return avatar.Payload{}, &avatar.TransportError{
			URL:        url,
			StatusCode: state.statusCode,
			Err:        avatar.ErrSizeExceeded,
		}
	case state.statusCode == http.StatusNotFound || state.statusCode == http.StatusGone:
		return avatar.Payload{}, fmt.Errorf("fetch %s: %w", url, avatar.ErrNotFound)
	case state.err != nil:
		return avatar.Payload{}, &avatar.TransportError{
			URL:        url,
			StatusCode: state.statusCode,
			Err:        fmt.Errorf("colly response failed: %w", state.err),
		}
	case !state.received:
		return avatar.Payload{}, &avatar.TransportError{
			URL:        url,
			StatusCode: state.statusCode,
			Err:        errors.New("no response received"),
		}
	}
	return state.payload, nil
}

func (f *Fetcher) copyHeaders(request avatar.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func mediaType(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt, _, _ = strings.Cut(header, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
