package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"

	"cadence/internal/core"
)

type omikujiConfig struct {
	Fortunes []string `json:"fortunes,omitempty"`
	Salt     string   `json:"salt,omitempty"`
}

var defaultFortunes = []string{
	"Great blessing",
	"Middle blessing",
	"Small blessing",
	"Blessing",
	"Future blessing",
	"Curse",
	"Great curse",
}

// Omikuji draws a daily fortune. The draw is seeded from the calendar date
// so every slot on the same day yields the same fortune.
type Omikuji struct {
	cfg   omikujiConfig
	clock core.Clock
}

func NewOmikuji(deps Deps, raw json.RawMessage) (Producer, error) {
	var cfg omikujiConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("omikuji config: %w", err)
		}
	}
	if len(cfg.Fortunes) == 0 {
		cfg.Fortunes = defaultFortunes
	}
	return &Omikuji{cfg: cfg, clock: deps.clock()}, nil
}

func (o *Omikuji) Build(ctx context.Context) (string, error) {
	day := o.clock.Now().Format("2006-01-02")
	h := fnv.New64a()
	h.Write([]byte(day))
	h.Write([]byte(o.cfg.Salt))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	fortune := o.cfg.Fortunes[rng.Intn(len(o.cfg.Fortunes))]
	return fmt.Sprintf("Today's fortune (%s): %s", day, fortune), nil
}
