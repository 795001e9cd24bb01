package reddit

import (
	"context"
	"errors"
	"finscrape/internal/chrono"
	"finscrape/internal/post"
	"finscrape/internal/sources"
	"finscrape/internal/telemetry"
	"finscrape/lib/restyutil"
	"finscrape/lib/textutil"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finscrape.internal.sources.reddit")

const (
	report_reddit_token  = "reddit.token"
	report_reddit_search = "reddit.search"
)

// reddit caps a single listing at 100 items
const maxListingLimit = 100

var DefaultSubreddits = []string{
	"stocks", "investing", "CryptoCurrency", "wallstreetbets",
	"StockMarket", "pennystocks", "options", "dividends",
	"Bitcoin", "Ethereum", "CryptoMarkets", "altcoin",
	"finance", "economics", "personalfinance", "Forex",
	"Trading", "Daytrading", "inwestowanie", "Polska",
}

// DefaultOnTopic lists the subreddits whose posts are kept without a
// keyword match.
var DefaultOnTopic = []string{
	"stocks", "CryptoCurrency", "Bitcoin", "Ethereum",
	"CryptoMarkets", "altcoin", "inwestowanie",
}

type Config struct {
	Enabled      bool     `json:"enabled"`
	ClientId     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	UserAgent    string   `json:"user_agent"`
	Subreddits   []string `json:"subreddits"`
	OnTopic      []string `json:"on_topic"`
	// posts older than this many days are skipped
	DaysBack          int     `json:"days_back"`
	RequestsPerSecond float64 `json:"requests_per_second"`

	AuthUrl string `json:"auth_url"`
	ApiUrl  string `json:"api_url"`
}

func (c Config) Validate() error {
	var missing []string
	if c.ClientId == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.UserAgent == "" {
		missing = append(missing, "user_agent")
	}
	if len(missing) > 0 {
		return fmt.Errorf("reddit: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if len(c.Subreddits) == 0 {
		c.Subreddits = DefaultSubreddits
	}
	if c.OnTopic == nil {
		c.OnTopic = DefaultOnTopic
	}
	if c.DaysBack <= 0 {
		c.DaysBack = 365
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.AuthUrl == "" {
		c.AuthUrl = "https://www.reddit.com"
	}
	if c.ApiUrl == "" {
		c.ApiUrl = "https://oauth.reddit.com"
	}
	return c
}

type Source struct {
	cfg      Config
	onTopic  map[string]bool
	keywords textutil.Vocabulary
	auth     *resty.Client
	api      *resty.Client
	executor failsafe.Executor[*resty.Response]
	time     chrono.TimeAPI
	tel      telemetry.API

	tokenLock   sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewSource(cfg Config, keywords textutil.Vocabulary, retry restyutil.RetryOptions, clock chrono.TimeAPI, tel telemetry.API) (*Source, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	auth, err := restyutil.NewClient(restyutil.ClientOptions{
		BaseUrl:    cfg.AuthUrl,
		UserAgent:  cfg.UserAgent,
		TracerName: "finscrape.reddit.http",
	})
	if err != nil {
		return nil, err
	}
	api, err := restyutil.NewClient(restyutil.ClientOptions{
		BaseUrl:           cfg.ApiUrl,
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		TracerName:        "finscrape.reddit.http",
	})
	if err != nil {
		return nil, err
	}

	onTopic := map[string]bool{}
	for _, s := range cfg.OnTopic {
		onTopic[strings.ToLower(s)] = true
	}

	return &Source{
		cfg:      cfg,
		onTopic:  onTopic,
		keywords: keywords,
		auth:     auth,
		api:      api,
		executor: restyutil.NewExecutor(retry),
		time:     clock,
		tel:      telemetry.NewScopedAPI("reddit", tel),
	}, nil
}

func (s *Source) Name() string {
	return "reddit"
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// accessToken returns a cached application-only token, requesting a new
// one a minute before the previous expires.
func (s *Source) accessToken(ctx context.Context) (string, error) {
	s.tokenLock.Lock()
	defer s.tokenLock.Unlock()

	now := s.time.Now()
	if s.token != "" && now.Before(s.tokenExpiry) {
		return s.token, nil
	}

	var body tokenResponse
	_, err := restyutil.Execute(ctx, s.executor, func(ctx context.Context) (*resty.Response, error) {
		return s.auth.R().
			SetContext(ctx).
			SetBasicAuth(s.cfg.ClientId, s.cfg.ClientSecret).
			SetFormData(map[string]string{"grant_type": "client_credentials"}).
			SetResult(&body).
			Post("/api/v1/access_token")
	})
	if err != nil {
		s.tel.ReportBroken(report_reddit_token, err)
		return "", fmt.Errorf("request access token: %w", err)
	}
	if body.AccessToken == "" {
		err = fmt.Errorf("request access token: empty token (%s)", body.Error)
		s.tel.ReportBroken(report_reddit_token, err)
		return "", err
	}

	s.token = body.AccessToken
	s.tokenExpiry = now.Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

type listing struct {
	Data struct {
		Children []struct {
			Data listingPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingPost struct {
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	CreatedUtc float64 `json:"created_utc"`
	Subreddit  string  `json:"subreddit"`
	Url        string  `json:"url"`
}

func (p listingPost) createdAt() time.Time {
	sec, frac := math.Modf(p.CreatedUtc)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// perSubredditLimit splits maxResults evenly across the subreddits.
func perSubredditLimit(maxResults, subreddits int) int {
	if subreddits == 0 {
		return 0
	}
	limit := maxResults / subreddits
	if limit < 1 {
		limit = 1
	}
	if limit > maxListingLimit {
		limit = maxListingLimit
	}
	return limit
}

func (s *Source) search(ctx context.Context, subreddit, query string, limit int) ([]listingPost, error) {
	ctx, span := tracer.Start(ctx, "search")
	defer span.End()
	span.SetAttributes(attribute.String("subreddit", subreddit))

	token, err := s.accessToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "access token")
		return nil, err
	}

	var body listing
	_, err = restyutil.Execute(ctx, s.executor, func(ctx context.Context) (*resty.Response, error) {
		return s.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetPathParam("subreddit", subreddit).
			SetQueryParams(map[string]string{
				"q":           query,
				"restrict_sr": "1",
				"sort":        "new",
				"t":           "year",
				"limit":       strconv.Itoa(limit),
				"raw_json":    "1",
			}).
			SetResult(&body).
			Get("/r/{subreddit}/search")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search")
		return nil, err
	}

	out := make([]listingPost, 0, len(body.Data.Children))
	for _, child := range body.Data.Children {
		out = append(out, child.Data)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Fetch searches every configured subreddit for the topic. A subreddit
// that fails is recorded in the batch and the rest are still searched.
func (s *Source) Fetch(ctx context.Context, topic string, maxResults int) (sources.Batch, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	var batch sources.Batch
	query := textutil.BuildQuery([]string{topic})
	limit := perSubredditLimit(maxResults, len(s.cfg.Subreddits))
	cutoff := s.time.Now().AddDate(0, 0, -s.cfg.DaysBack)

	for _, subreddit := range s.cfg.Subreddits {
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}

		results, err := s.search(ctx, subreddit, query, limit)
		if err != nil {
			s.tel.ReportWarning(report_reddit_search, fmt.Errorf("r/%s: %w", subreddit, err))
			batch.Add("r/"+subreddit, nil, err)
			if errors.Is(err, context.Canceled) {
				return batch, err
			}
			continue
		}

		posts := s.toPosts(subreddit, results, cutoff)
		s.tel.ReportDebug("searched subreddit", subreddit, len(results), len(posts))
		batch.Add("r/"+subreddit, posts, nil)
	}

	span.SetAttributes(attribute.Int("posts", len(batch.Posts)))
	return batch, nil
}

func (s *Source) toPosts(subreddit string, results []listingPost, cutoff time.Time) []post.Post {
	onTopic := s.onTopic[strings.ToLower(subreddit)]

	var posts []post.Post
	for _, r := range results {
		created := r.createdAt()
		if created.Before(cutoff) {
			continue
		}
		text := r.Title + "\n" + r.Selftext
		if !onTopic && !s.keywords.Matches(text) {
			continue
		}
		name := r.Subreddit
		if name == "" {
			name = subreddit
		}
		posts = append(posts, post.Post{
			Platform:  post.PlatformReddit,
			Text:      strings.TrimSpace(text),
			Timestamp: post.FormatTimestamp(created),
			Subreddit: name,
			Title:     r.Title,
			Url:       r.Url,
			CreatedAt: created,
		})
	}
	return posts
}
