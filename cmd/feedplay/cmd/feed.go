package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/feedplay/internal/urlutil"
)

// feedFile is the on-disk form of a feed: either a bare list of URLs or
// an object with an items list.
type feedFile struct {
	Items []feedItem `yaml:"items"`
}

type feedItem struct {
	URL   string `yaml:"url"`
	Title string `yaml:"title,omitempty"`
}

// loadFeed reads feed URLs from path and appends extra.
func loadFeed(path string, extra []string) ([]string, error) {
	var urls []string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading feed file: %w", err)
		}
		urls, err = parseFeed(data)
		if err != nil {
			return nil, fmt.Errorf("parsing feed file %s: %w", path, err)
		}
	}
	urls = append(urls, extra...)
	if len(urls) == 0 {
		return nil, fmt.Errorf("no feed urls given")
	}
	for i, u := range urls {
		if err := urlutil.ValidateRemote(u); err != nil {
			return nil, fmt.Errorf("feed item %d: %w", i, err)
		}
	}
	return urls, nil
}

func parseFeed(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var urls []string
		if err := root.Decode(&urls); err != nil {
			return nil, err
		}
		return urls, nil
	}

	var feed feedFile
	if err := root.Decode(&feed); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.URL != "" {
			urls = append(urls, item.URL)
		}
	}
	return urls, nil
}
