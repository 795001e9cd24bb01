package x

import (
	"context"
	"finscrape/internal/chrono"
	"finscrape/internal/post"
	"finscrape/internal/sources"
	"finscrape/internal/telemetry"
	"finscrape/lib/restyutil"
	"finscrape/lib/textutil"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finscrape.internal.sources.x")

const (
	report_x_token   = "x.token"
	report_x_search  = "x.search"
	report_x_replies = "x.replies"
)

const (
	// the search endpoint accepts between 10 and 100 results per page
	minPageSize = 10
	maxPageSize = 100
	// length of the parent text kept on replies
	parentPrefixLength = 50
)

const (
	RecentSearchPath      = "/2/tweets/search/recent"
	FullArchiveSearchPath = "/2/tweets/search/all"
)

type Config struct {
	Enabled      bool   `json:"enabled"`
	BearerToken  string `json:"bearer_token"`
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// first day searched, YYYY-MM-DD, defaults to january 1st of the
	// current year
	Since string `json:"since"`
	// amount of tweets whose replies are collected
	MaxThreads        int     `json:"max_threads"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	ApiUrl            string  `json:"api_url"`
	// defaults to the recent search, which only covers the last 7 days.
	// Ranges before that are skipped unless the full archive search is
	// configured here.
	SearchPath string `json:"search_path"`
}

func (c Config) Validate() error {
	if c.BearerToken != "" {
		return nil
	}
	if c.ClientId == "" || c.ClientSecret == "" {
		return fmt.Errorf("x: either bearer_token or client_id and client_secret are required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxThreads <= 0 {
		c.MaxThreads = 50
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.ApiUrl == "" {
		c.ApiUrl = "https://api.twitter.com"
	}
	if c.SearchPath == "" {
		c.SearchPath = RecentSearchPath
	}
	return c
}

type Source struct {
	cfg      Config
	keywords textutil.Vocabulary
	http     *resty.Client
	executor failsafe.Executor[*resty.Response]
	time     chrono.TimeAPI
	tel      telemetry.API

	tokenLock sync.Mutex
	token     string
}

func NewSource(cfg Config, keywords textutil.Vocabulary, retry restyutil.RetryOptions, clock chrono.TimeAPI, tel telemetry.API) (*Source, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	client, err := restyutil.NewClient(restyutil.ClientOptions{
		BaseUrl:           cfg.ApiUrl,
		RequestsPerSecond: cfg.RequestsPerSecond,
		TracerName:        "finscrape.x.http",
	})
	if err != nil {
		return nil, err
	}

	return &Source{
		cfg:      cfg,
		keywords: keywords,
		http:     client,
		executor: restyutil.NewExecutor(retry),
		time:     clock,
		tel:      telemetry.NewScopedAPI("x", tel),
		token:    cfg.BearerToken,
	}, nil
}

func (s *Source) Name() string {
	return "x"
}

// bearerToken exchanges the client credentials for an app-only token the
// first time it is needed.
func (s *Source) bearerToken(ctx context.Context) (string, error) {
	s.tokenLock.Lock()
	defer s.tokenLock.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	var body struct {
		TokenType   string `json:"token_type"`
		AccessToken string `json:"access_token"`
	}
	_, err := restyutil.Execute(ctx, s.executor, func(ctx context.Context) (*resty.Response, error) {
		return s.http.R().
			SetContext(ctx).
			SetBasicAuth(s.cfg.ClientId, s.cfg.ClientSecret).
			SetFormData(map[string]string{"grant_type": "client_credentials"}).
			SetResult(&body).
			Post("/oauth2/token")
	})
	if err != nil {
		s.tel.ReportBroken(report_x_token, err)
		return "", fmt.Errorf("request bearer token: %w", err)
	}
	if body.AccessToken == "" {
		err = fmt.Errorf("request bearer token: empty token")
		s.tel.ReportBroken(report_x_token, err)
		return "", err
	}
	s.token = body.AccessToken
	return s.token, nil
}

type tweet struct {
	Id             string    `json:"id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationId string    `json:"conversation_id"`
}

type searchResponse struct {
	Data []tweet `json:"data"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

func pageSize(remaining int) int {
	if remaining < minPageSize {
		return minPageSize
	}
	if remaining > maxPageSize {
		return maxPageSize
	}
	return remaining
}

// search pages through the results of query in [start, end) until limit
// tweets were read or the results run out.
func (s *Source) search(ctx context.Context, query string, start, end time.Time, limit int) ([]tweet, error) {
	ctx, span := tracer.Start(ctx, "search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query))

	token, err := s.bearerToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bearer token")
		return nil, err
	}

	var out []tweet
	next := ""
	for len(out) < limit {
		params := map[string]string{
			"query":        query,
			"max_results":  strconv.Itoa(pageSize(limit - len(out))),
			"tweet.fields": "created_at,conversation_id",
		}
		if !start.IsZero() {
			params["start_time"] = start.UTC().Format(time.RFC3339)
		}
		if !end.IsZero() {
			params["end_time"] = end.UTC().Format(time.RFC3339)
		}
		if next != "" {
			params["next_token"] = next
		}

		var body searchResponse
		_, err := restyutil.Execute(ctx, s.executor, func(ctx context.Context) (*resty.Response, error) {
			return s.http.R().
				SetContext(ctx).
				SetAuthToken(token).
				SetQueryParams(params).
				SetResult(&body).
				Get(s.cfg.SearchPath)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search")
			return out, err
		}

		out = append(out, body.Data...)
		next = body.Meta.NextToken
		if next == "" || len(body.Data) == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func (s *Source) toPost(t tweet, platform post.Platform) post.Post {
	timestamp := s.time.Now()
	if !t.CreatedAt.IsZero() {
		timestamp = t.CreatedAt
	}
	return post.Post{
		Platform:  platform,
		Text:      t.Text,
		Timestamp: post.FormatTimestamp(timestamp),
		TweetId:   t.Id,
	}
}

// Fetch searches every monthly range since the configured start for
// original tweets on query, then collects the replies of the first
// MaxThreads matching tweets. maxResults caps every single search.
func (s *Source) Fetch(ctx context.Context, query string, maxResults int) (sources.Batch, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	var batch sources.Batch
	now := s.time.Now()
	since, err := ParseSince(s.cfg.Since, now)
	if err != nil {
		return batch, err
	}

	ranges := MonthlyRanges(since, now)
	if s.cfg.SearchPath == RecentSearchPath {
		total := len(ranges)
		ranges = ClampRanges(ranges, RecentSearchStart(now))
		if len(ranges) < total {
			s.tel.ReportDebug("skipped ranges outside the recent search window", total-len(ranges))
		}
	}

	var matched []tweet
	for _, r := range ranges {
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}

		results, err := s.search(ctx, fmt.Sprintf("%s -is:retweet", query), r.Start, r.End, maxResults)
		if err != nil {
			s.tel.ReportWarning(report_x_search, fmt.Errorf("%s: %w", r, err))
			batch.Add(r.String(), nil, err)
			continue
		}

		var posts []post.Post
		for _, t := range results {
			if !s.keywords.Matches(t.Text) {
				continue
			}
			matched = append(matched, t)
			posts = append(posts, s.toPost(t, post.PlatformX))
		}
		s.tel.ReportDebug("searched range", r.String(), len(results), len(posts))
		batch.Add(r.String(), posts, nil)
	}

	if len(matched) > s.cfg.MaxThreads {
		matched = matched[:s.cfg.MaxThreads]
	}
	for _, parent := range matched {
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}
		unit := "thread " + parent.Id
		posts, err := s.replies(ctx, parent, maxResults)
		if err != nil {
			s.tel.ReportWarning(report_x_replies, fmt.Errorf("%s: %w", unit, err))
		}
		batch.Add(unit, posts, err)
	}

	span.SetAttributes(attribute.Int("posts", len(batch.Posts)))
	return batch, nil
}

func (s *Source) replies(ctx context.Context, parent tweet, maxResults int) ([]post.Post, error) {
	conversation := parent.ConversationId
	if conversation == "" {
		conversation = parent.Id
	}
	results, err := s.search(ctx, fmt.Sprintf("conversation_id:%s is:reply", conversation), time.Time{}, time.Time{}, maxResults)
	if err != nil {
		return nil, err
	}

	parentText := textutil.Truncate(parent.Text, parentPrefixLength)
	var posts []post.Post
	for _, t := range results {
		if t.Id == parent.Id || !s.keywords.Matches(t.Text) {
			continue
		}
		p := s.toPost(t, post.PlatformXComment)
		p.ParentTweet = parentText
		posts = append(posts, p)
	}
	return posts, nil
}
