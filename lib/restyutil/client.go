package restyutil

import (
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type ClientOptions struct {
	BaseUrl   string
	UserAgent string
	// 0 disables rate limiting.
	RequestsPerSecond float64
	// defaults to 30 seconds
	Timeout          time.Duration
	CloudflareBypass bool
	// name of the otel tracer requests are recorded under, defaults to
	// "finscrape.http"
	TracerName string
	// if nil, falls back to the output given to SetDefaultOutput
	Output InstrumentOutput
}

var defaultOutput InstrumentOutput

// SetDefaultOutput sets where clients created afterwards without an
// explicit Output dump their exchanges. nil disables dumping.
func SetDefaultOutput(out InstrumentOutput) {
	defaultOutput = out
}

// NewClient creates a resty client with a cookie jar, a browser user agent
// and, if configured, a rate limit of RequestsPerSecond.
func NewClient(opts ClientOptions) (*resty.Client, error) {
	client := resty.New()
	if opts.BaseUrl != "" {
		client.SetBaseURL(opts.BaseUrl)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	tracerName := opts.TracerName
	if tracerName == "" {
		tracerName = "finscrape.http"
	}
	output := opts.Output
	if output == nil {
		output = defaultOutput
	}
	InstrumentClient(client, tracerName, output)

	return client, nil
}
