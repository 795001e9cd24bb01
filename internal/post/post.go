package post

import (
	"strings"
	"time"
)

// Platform identifies the source a post was collected from.
type Platform string

const (
	PlatformInstagram Platform = "Instagram"
	PlatformFacebook  Platform = "Facebook"
	PlatformReddit    Platform = "Reddit"
	PlatformX         Platform = "X"
	PlatformXComment  Platform = "X-Comment"
)

// Post is a single collected record, one of these is one line in a
// partition log.
type Post struct {
	Platform  Platform `json:"platform"`
	Text      string   `json:"text"`
	Timestamp string   `json:"timestamp"`

	Subreddit   string `json:"subreddit,omitempty"`
	Title       string `json:"title,omitempty"`
	Url         string `json:"url,omitempty"`
	TweetId     string `json:"tweet_id,omitempty"`
	ParentTweet string `json:"parent_tweet,omitempty"`

	// CreatedAt is when the post was published on its platform. When set,
	// the post is partitioned by this day instead of the collection day.
	CreatedAt time.Time `json:"-"`
}

// Key is the value posts are deduplicated on.
func (p Post) Key() string {
	return Key(p.Text)
}

// Key normalizes a post text into its dedup key.
func Key(text string) string {
	return strings.TrimSpace(text)
}

// FormatTimestamp is the timestamp format written into records.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
