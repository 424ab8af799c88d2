package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"cadence/pkg/logx"
)

type weatherConfig struct {
	Endpoint string `json:"endpoint"`
	Location string `json:"location,omitempty"`
}

type weatherSnapshot struct {
	Location     string  `json:"location"`
	TemperatureC float64 `json:"temperature_c"`
	Condition    string  `json:"condition"`
	Humidity     int     `json:"humidity,omitempty"`
}

// Weather renders a one-line summary from a weather snapshot endpoint.
type Weather struct {
	cfg    weatherConfig
	client *http.Client
	log    logx.Logger
}

func NewWeather(deps Deps, raw json.RawMessage) (Producer, error) {
	var cfg weatherConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("weather config: %w", err)
		}
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("weather config: endpoint required")
	}
	return &Weather{cfg: cfg, client: deps.httpClient(), log: deps.Log}, nil
}

func (w *Weather) Build(ctx context.Context) (string, error) {
	url := w.cfg.Endpoint
	if w.cfg.Location != "" {
		url += "?location=" + w.cfg.Location
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather endpoint: status %d", resp.StatusCode)
	}

	var snap weatherSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return "", fmt.Errorf("weather decode: %w", err)
	}
	loc := snap.Location
	if loc == "" {
		loc = w.cfg.Location
	}
	msg := fmt.Sprintf("Weather for %s: %.1f°C, %s", loc, snap.TemperatureC, snap.Condition)
	if snap.Humidity > 0 {
		msg += fmt.Sprintf(" (humidity %d%%)", snap.Humidity)
	}
	return msg, nil
}
