// Package generator synthesizes clickstream events.
package generator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"clickstream/internal/clickstream"
)

// PurchaseChance is the percentage of events that carry a monetary value.
const PurchaseChance = 30

var pathWords = []string{
	"app", "main", "wp-content", "search", "category", "tag",
	"categories", "tags", "blog", "posts", "list", "explore",
}

// Generator builds Events from its random source. It is not safe for
// concurrent use.
type Generator struct {
	rand    *rand.Rand
	now     func() time.Time
	newUUID func() (uuid.UUID, error)
}

type Option func(*Generator)

// WithRand replaces the random source, typically with a seeded one in tests.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) {
		g.rand = r
	}
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithUUIDSource replaces the identifier source.
func WithUUIDSource(fn func() (uuid.UUID, error)) Option {
	return func(g *Generator) {
		g.newUUID = fn
	}
}

func New(opts ...Option) *Generator {
	g := Generator{
		rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:     time.Now,
		newUUID: uuid.NewRandom,
	}

	for _, opt := range opts {
		opt(&g)
	}

	return &g
}

// Next returns a fresh Event stamped with the current time.
func (g *Generator) Next() (clickstream.Event, error) {
	ids := make([]string, 3)
	for i := range ids {
		id, err := g.newUUID()
		if err != nil {
			return clickstream.Event{}, fmt.Errorf("failed to generate identifier: %w", err)
		}
		ids[i] = id.String()
	}

	e := clickstream.Event{
		EventIdentifier: ids[0],
		AccountID:       ids[1],
		ActionName:      clickstream.Actions[g.rand.IntN(len(clickstream.Actions))],
		SourcePath:      g.uriPath(),
		SessionToken:    ids[2],
		PlatformType:    clickstream.Platforms[g.rand.IntN(len(clickstream.Platforms))],
		TimestampUTC:    g.now().UTC().Format(clickstream.TimestampLayout),
		Location: clickstream.Location{
			Latitude:  round(g.rand.Float64()*180-90, 6),
			Longitude: round(g.rand.Float64()*360-180, 6),
		},
	}

	// draw 1..100 and compare, so exactly PurchaseChance of 100 outcomes hit
	if g.rand.IntN(100)+1 <= PurchaseChance {
		span := float64(clickstream.MaxAmount - clickstream.MinAmount)
		amount := clickstream.NewAmount(float64(clickstream.MinAmount) + g.rand.Float64()*span)
		e.MonetaryValue = &amount
	}

	return e, nil
}

func (g *Generator) uriPath() string {
	depth := 1 + g.rand.IntN(3)
	parts := make([]string, depth)
	for i := range parts {
		parts[i] = pathWords[g.rand.IntN(len(pathWords))]
	}

	return strings.Join(parts, "/")
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
