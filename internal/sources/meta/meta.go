package meta

import (
	"bytes"
	"context"
	"finscrape/internal/chrono"
	"finscrape/internal/post"
	"finscrape/internal/sources"
	"finscrape/internal/telemetry"
	"finscrape/lib/htmlutil"
	"finscrape/lib/restyutil"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/failsafe-go/failsafe-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finscrape.internal.sources.meta")

const report_meta_page = "meta.page"

// facebook search pages are full of short ui labels, only longer blocks
// are kept
const minFacebookTextLength = 50

type Config struct {
	Instagram bool `json:"instagram"`
	Facebook  bool `json:"facebook"`
	// sent with every request, ex. a logged in session cookie
	Cookie            string  `json:"cookie"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
	InstagramUrl      string  `json:"instagram_url"`
	FacebookUrl       string  `json:"facebook_url"`
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 0.5
	}
	if c.InstagramUrl == "" {
		c.InstagramUrl = "https://www.instagram.com"
	}
	if c.FacebookUrl == "" {
		c.FacebookUrl = "https://www.facebook.com"
	}
	return c
}

// page scrapes the text blocks of a single public page.
type page struct {
	name     string
	platform post.Platform
	http     *resty.Client
	executor failsafe.Executor[*resty.Response]
	cookie   string
	time     chrono.TimeAPI
	tel      telemetry.API

	path     func(query string) string
	selector string
	accept   func(text string) bool
}

func newPage(name, baseUrl string, cfg Config, retry restyutil.RetryOptions, clock chrono.TimeAPI, tel telemetry.API) (page, error) {
	client, err := restyutil.NewClient(restyutil.ClientOptions{
		BaseUrl:           baseUrl,
		RequestsPerSecond: cfg.RequestsPerSecond,
		CloudflareBypass:  cfg.CloudflareBypass,
		TracerName:        fmt.Sprintf("finscrape.%s.http", name),
	})
	if err != nil {
		return page{}, err
	}
	return page{
		name:     name,
		http:     client,
		executor: restyutil.NewExecutor(retry),
		cookie:   cfg.Cookie,
		time:     clock,
		tel:      telemetry.NewScopedAPI(name, tel),
	}, nil
}

func (p page) Name() string {
	return p.name
}

func (p page) fetchDocument(ctx context.Context, path string) (*goquery.Document, error) {
	res, err := restyutil.Execute(ctx, p.executor, func(ctx context.Context) (*resty.Response, error) {
		req := p.http.R().SetContext(ctx)
		if p.cookie != "" {
			req.SetHeader("cookie", p.cookie)
		}
		return req.Get(path)
	})
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
}

// Fetch loads the page of query and keeps up to maxResults text blocks
// matched by the page selector. The whole page is a single unit.
func (p page) Fetch(ctx context.Context, query string, maxResults int) (sources.Batch, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("page", p.name),
		attribute.String("query", query),
	)

	var batch sources.Batch
	path := p.path(query)

	doc, err := p.fetchDocument(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch page")
		p.tel.ReportWarning(report_meta_page, fmt.Errorf("%s: %w", path, err))
		batch.Add(path, nil, err)
		return batch, nil
	}

	timestamp := post.FormatTimestamp(p.time.Now())
	var posts []post.Post
	doc.Find(p.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(posts) >= maxResults {
			return false
		}
		text := htmlutil.CleanText(sel)
		if text == "" || !p.accept(text) {
			return true
		}
		posts = append(posts, post.Post{
			Platform:  p.platform,
			Text:      text,
			Timestamp: timestamp,
		})
		return true
	})

	p.tel.ReportDebug("scraped page", path, len(posts))
	span.SetAttributes(attribute.Int("posts", len(posts)))
	batch.Add(path, posts, nil)
	return batch, nil
}

// NewInstagram scrapes the public hashtag page of a query.
func NewInstagram(cfg Config, retry restyutil.RetryOptions, clock chrono.TimeAPI, tel telemetry.API) (sources.Source, error) {
	cfg = cfg.withDefaults()
	p, err := newPage("instagram", cfg.InstagramUrl, cfg, retry, clock, tel)
	if err != nil {
		return nil, err
	}
	p.platform = post.PlatformInstagram
	p.selector = "article"
	p.path = func(query string) string {
		tag := strings.ReplaceAll(strings.ToLower(query), " ", "")
		return fmt.Sprintf("/explore/tags/%s/", url.PathEscape(tag))
	}
	p.accept = func(string) bool { return true }
	return p, nil
}

// NewFacebook scrapes the public post search of a query.
func NewFacebook(cfg Config, retry restyutil.RetryOptions, clock chrono.TimeAPI, tel telemetry.API) (sources.Source, error) {
	cfg = cfg.withDefaults()
	p, err := newPage("facebook", cfg.FacebookUrl, cfg, retry, clock, tel)
	if err != nil {
		return nil, err
	}
	p.platform = post.PlatformFacebook
	p.selector = "div"
	p.path = func(query string) string {
		return "/search/posts/?q=" + url.QueryEscape(query)
	}
	p.accept = func(text string) bool {
		return utf8.RuneCountInString(text) > minFacebookTextLength
	}
	return p, nil
}
