// Package testutil provides test doubles and sample feed generation.
package testutil

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Fictional creators for generated feeds.
// NEVER use real channel or creator names.
var (
	Creators = []string{
		"PixelPond",
		"NorthTrail",
		"CopperKettle",
		"LumenLab",
		"QuietHarbor",
		"RoadSketch",
		"TinyOrbit",
		"MossAndStone",
	}

	Topics = []string{
		"cooking",
		"travel",
		"music",
		"science",
		"gaming",
		"crafts",
		"fitness",
		"pets",
	}

	// ClipDurations contains common short-form clip lengths in seconds.
	ClipDurations = []int{8, 15, 30, 45, 60, 90}
)

// FeedItem is a single playable entry of a generated feed.
type FeedItem struct {
	ID       string
	Title    string
	Creator  string
	URL      string
	Duration time.Duration
}

// FeedGenerator generates fictional feed items for tests.
type FeedGenerator struct {
	rng *rand.Rand
}

// NewFeedGenerator creates a generator with a random seed.
func NewFeedGenerator() *FeedGenerator {
	return &FeedGenerator{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewFeedGeneratorWithSeed creates a generator with a fixed seed for reproducibility.
func NewFeedGeneratorWithSeed(seed int64) *FeedGenerator {
	return &FeedGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns n items whose URLs are rooted at baseURL.
// Item IDs are stable: the i-th item is always "clip-<i>".
func (g *FeedGenerator) Generate(baseURL string, n int) []FeedItem {
	baseURL = strings.TrimSuffix(baseURL, "/")
	items := make([]FeedItem, 0, n)
	for i := range n {
		creator := Creators[g.rng.Intn(len(Creators))]
		topic := Topics[g.rng.Intn(len(Topics))]
		seconds := ClipDurations[g.rng.Intn(len(ClipDurations))]
		id := fmt.Sprintf("clip-%d", i)
		items = append(items, FeedItem{
			ID:       id,
			Title:    fmt.Sprintf("%s %s #%d", creator, topic, i+1),
			Creator:  creator,
			URL:      fmt.Sprintf("%s/media/%s.mp4", baseURL, id),
			Duration: time.Duration(seconds) * time.Second,
		})
	}
	return items
}

// URLs returns the URL of each item, in order.
func URLs(items []FeedItem) []string {
	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL
	}
	return urls
}
