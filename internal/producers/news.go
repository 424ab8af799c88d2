package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"cadence/pkg/logx"
)

type newsConfig struct {
	Endpoint string `json:"endpoint"`
	MaxItems int    `json:"max_items,omitempty"`
}

type headline struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// News renders a headline digest from a JSON feed endpoint. An empty feed
// skips the slot.
type News struct {
	cfg    newsConfig
	client *http.Client
	log    logx.Logger
}

func NewNews(deps Deps, raw json.RawMessage) (Producer, error) {
	var cfg newsConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("news config: %w", err)
		}
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("news config: endpoint required")
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 5
	}
	return &News{cfg: cfg, client: deps.httpClient(), log: deps.Log}, nil
}

func (n *News) Build(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.Endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("news endpoint: status %d", resp.StatusCode)
	}

	var items []headline
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return "", fmt.Errorf("news decode: %w", err)
	}
	if len(items) == 0 {
		return "", nil
	}
	if len(items) > n.cfg.MaxItems {
		items = items[:n.cfg.MaxItems]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "News digest (%d)\n", len(items))
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it.Title)
		if it.URL != "" {
			b.WriteString(" ")
			b.WriteString(it.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
