package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"cadence/pkg/logx"
)

type netprobeConfig struct {
	TimeoutSeconds int  `json:"timeout_seconds,omitempty"`
	SkipUpload     bool `json:"skip_upload,omitempty"`
}

// Netprobe measures network throughput against the nearest speedtest
// server and renders a one-line summary.
type Netprobe struct {
	cfg netprobeConfig
	log logx.Logger
}

func NewNetprobe(deps Deps, raw json.RawMessage) (Producer, error) {
	var cfg netprobeConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("netprobe config: %w", err)
		}
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	return &Netprobe{cfg: cfg, log: deps.Log}, nil
}

func (n *Netprobe) Build(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(n.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	client := speedtest.New()
	serverList, err := client.FetchServerListContext(ctx)
	if err != nil {
		return "", fmt.Errorf("netprobe: fetch servers: %w", err)
	}
	targets, err := serverList.FindServer(nil)
	if err != nil || len(targets) == 0 {
		return "", fmt.Errorf("netprobe: no server available")
	}
	srv := targets[0]

	if err := srv.PingTestContext(ctx, nil); err != nil {
		return "", fmt.Errorf("netprobe: ping: %w", err)
	}
	if err := srv.DownloadTestContext(ctx); err != nil {
		return "", fmt.Errorf("netprobe: download: %w", err)
	}
	upload := 0.0
	if !n.cfg.SkipUpload {
		if err := srv.UploadTestContext(ctx); err != nil {
			return "", fmt.Errorf("netprobe: upload: %w", err)
		}
		upload = srv.ULSpeed.Mbps()
	}

	msg := fmt.Sprintf("Net probe: down %.1f Mbps", srv.DLSpeed.Mbps())
	if !n.cfg.SkipUpload {
		msg += fmt.Sprintf(", up %.1f Mbps", upload)
	}
	msg += fmt.Sprintf(", ping %d ms via %s (%s)",
		srv.Latency.Milliseconds(), srv.Sponsor, srv.Country)
	return msg, nil
}
