// Package ranking scores live streams, posts and seller profiles for feeds and leaderboards.
//
// Scoring is deterministic: a base score from engagement metrics, an optional boost
// multiplier from a paid campaign, and a step time decay on content age.
package ranking

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
)

// ContentType identifies the kind of content being ranked.
type ContentType string

const (
	TypeLiveStream ContentType = "live_stream"
	TypePost       ContentType = "post"
	TypeProfile    ContentType = "profile"
)

// ErrUnknownContentType is returned by operations that need a known content type.
var ErrUnknownContentType = errors.New("unknown content type")

// ErrInactive is returned by a Source for content that is no longer ranked, such as an
// ended live stream.
var ErrInactive = errors.New("content is no longer ranked")

// ContentTypes returns every rankable content type.
func ContentTypes() []ContentType {
	return []ContentType{TypeLiveStream, TypePost, TypeProfile}
}

// ParseContentType validates s as one of the known content types.
func ParseContentType(s string) (ContentType, error) {
	switch t := ContentType(s); t {
	case TypeLiveStream, TypePost, TypeProfile:
		return t, nil
	}
	return "", ErrUnknownContentType
}

const (
	// MinBaseScore keeps new and low-engagement content discoverable.
	MinBaseScore = 50
	// UnknownTypeScore is the flat base score for an unrecognised content type.
	UnknownTypeScore = 100
	// MaxBoostMultiplier caps paid boosts.
	MaxBoostMultiplier = 10.0
	// MinTimeDecay is the decay applied to content older than three days.
	MinTimeDecay = 0.5
)

// Content carries the engagement metrics of any rankable item. Only the fields of the
// variant being scored are read; absent metrics are zero.
type Content struct {
	// live stream
	ViewerCount     int     `json:"viewer_count"`
	TotalBids       int     `json:"total_bids"`
	BidAmountTotal  float64 `json:"bid_amount_total"`
	DurationMinutes int     `json:"duration_minutes"`

	// shared by live streams and posts
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`

	// post
	Views         int `json:"views"`
	Saves         int `json:"saves"`
	ClickThroughs int `json:"click_throughs"`

	// profile
	Followers    int     `json:"followers"`
	TotalSales   int     `json:"total_sales"`
	AvgRating    float64 `json:"avg_rating"`
	ReviewsCount int     `json:"reviews_count"`
	ProfileViews int     `json:"profile_views"`
	DaysActive   int     `json:"days_active"`

	CreatedAt time.Time `json:"created_at"`
}

// Result is the full score breakdown of one item.
type Result struct {
	BaseScore       int         `json:"baseScore"`
	BoostMultiplier float64     `json:"boostMultiplier"`
	BoostedScore    int         `json:"boostedScore"`
	TimeDecay       float64     `json:"timeDecay"`
	FinalScore      int         `json:"finalScore"`
	Type            ContentType `json:"type"`
}

// BaseScore computes the engagement score of c scored as type t, floored at MinBaseScore.
func BaseScore(c Content, t ContentType) int {
	var score float64
	switch t {
	case TypeLiveStream:
		score = liveStreamScore(c)
	case TypePost:
		score = postScore(c)
	case TypeProfile:
		score = profileScore(c)
	default:
		score = UnknownTypeScore
	}
	return max(int(math.Round(score)), MinBaseScore)
}

func liveStreamScore(c Content) float64 {
	score := 500.0
	score += math.Min(float64(c.ViewerCount)*10, 500)
	score += math.Min(float64(c.TotalBids)*15, 300)
	score += c.BidAmountTotal
	score += math.Min(float64(c.DurationMinutes), 120)
	score += float64(c.Likes) * 2
	score += float64(c.Comments) * 3
	score += float64(c.Shares) * 5
	return score
}

func postScore(c Content) float64 {
	score := 200.0
	score += math.Min(float64(c.Views)*0.5, 200)
	score += float64(c.Likes) * 3
	score += float64(c.Comments) * 5
	score += float64(c.Shares) * 8
	score += float64(c.Saves) * 4
	score += float64(c.ClickThroughs) * 6
	return score
}

func profileScore(c Content) float64 {
	score := 100.0
	score += math.Min(float64(c.Followers)*0.5, 150)
	score += math.Min(float64(c.TotalSales)*5, 200)
	score += c.AvgRating / 5 * 50
	score += math.Min(float64(c.ReviewsCount)*2, 100)
	score += math.Min(float64(c.ProfileViews)*0.2, 100)
	score += math.Min(float64(c.DaysActive), 365)
	return score
}

// SanitizeBoost maps a multiplier into (0, MaxBoostMultiplier]. Non-positive and
// non-finite values mean "no boost".
func SanitizeBoost(m float64) float64 {
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return 1
	}
	return math.Min(m, MaxBoostMultiplier)
}

// ApplyBoost multiplies base by the sanitized multiplier and rounds.
func ApplyBoost(base int, multiplier float64) int {
	return int(math.Round(float64(base) * SanitizeBoost(multiplier)))
}

// TimeDecay returns the age penalty for content created at createdAt. Each step is
// inclusive of its upper bound: exactly 4h old still decays as 1.0.
func TimeDecay(createdAt, now time.Time) float64 {
	hours := now.Sub(createdAt).Hours()
	switch {
	case hours <= 4:
		return 1.0
	case hours <= 12:
		return 0.9
	case hours <= 24:
		return 0.8
	case hours <= 48:
		return 0.7
	case hours <= 72:
		return 0.6
	}
	return MinTimeDecay
}

// Engine composes the scoring steps against a clock.
type Engine struct {
	clock clockwork.Clock
}

// NewEngine creates a ranking engine. A nil clock uses the real clock.
func NewEngine(clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{clock: clock}
}

// FinalRanking scores c as type t with the given boost multiplier.
func (e *Engine) FinalRanking(c Content, t ContentType, multiplier float64) Result {
	base := BaseScore(c, t)
	m := SanitizeBoost(multiplier)
	boosted := ApplyBoost(base, m)
	decay := TimeDecay(c.CreatedAt, e.clock.Now())
	return Result{
		BaseScore:       base,
		BoostMultiplier: m,
		BoostedScore:    boosted,
		TimeDecay:       decay,
		FinalScore:      int(math.Round(float64(boosted) * decay)),
		Type:            t,
	}
}

// Item is one entry submitted to the leaderboard.
type Item struct {
	ID              string      `json:"id"`
	Type            ContentType `json:"type"`
	Content         Content     `json:"content"`
	BoostMultiplier float64     `json:"boost_multiplier"`
}

// Ranked is an item with its computed result.
type Ranked struct {
	Item
	Ranking Result `json:"ranking"`
}

func (e *Engine) score(it Item) Result {
	return e.FinalRanking(it.Content, it.Type, it.BoostMultiplier)
}

// Compare orders items by descending final score: negative when a ranks above b.
func (e *Engine) Compare(a, b Item) int {
	return e.score(b).FinalScore - e.score(a).FinalScore
}

// Leaderboard scores items and returns them sorted by descending final score.
// The order of items with equal scores is unspecified.
func (e *Engine) Leaderboard(items []Item) []Ranked {
	out := make([]Ranked, len(items))
	for i, it := range items {
		out[i] = Ranked{Item: it, Ranking: e.score(it)}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ranking.FinalScore > out[j].Ranking.FinalScore
	})
	return out
}
