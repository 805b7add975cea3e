// Package stats implements the supplemented daily and per-city view
// counters behind GET /api/stats/daily and GET /api/stats/cities. These
// aren't part of the core abuse-defense pipeline, but every city
// bulletin board this size ships some lightweight usage counters
// alongside it, so they're kept in the same coordination store rather
// than introducing a second storage layer.
package stats

import (
	"context"
	"time"

	"github.com/adred-codev/cityfeed/internal/store"
)

const (
	dailyTTL       = 36 * time.Hour
	cityViewTTL    = 8 * 24 * time.Hour // outlives the 7-day trailing window with margin
	cityViewWindow = 7                  // trailing daily buckets averaged for DailyAverage
)

func dayKey(t time.Time) string { return t.UTC().Format("20060102") }

func uniqueIPsKey(day string) string    { return "stats:daily:ips:" + day }
func messageCountKey(day string) string { return "stats:daily:messages:" + day }
func cityViewsKey(city, day string) string { return "stats:city:" + city + ":" + day }

// Tracker records lightweight usage counters.
type Tracker struct {
	store store.Store
}

func New(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// RecordPost marks ip as active today and increments today's message
// count. Called once per accepted post.
func (t *Tracker) RecordPost(ctx context.Context, ip string) error {
	day := dayKey(time.Now())
	if _, err := t.store.SAdd(ctx, uniqueIPsKey(day), ip, dailyTTL); err != nil {
		return err
	}
	if _, err := t.store.Incr(ctx, messageCountKey(day), 1, dailyTTL); err != nil {
		return err
	}
	return nil
}

// RecordCityView increments city's view counter for today's bucket.
// Called once per feed read.
func (t *Tracker) RecordCityView(ctx context.Context, city string) error {
	_, err := t.store.Incr(ctx, cityViewsKey(city, dayKey(time.Now())), 1, cityViewTTL)
	return err
}

// Daily reports today's unique poster IP count and message count.
func (t *Tracker) Daily(ctx context.Context) (uniqueIPs int64, messageCount int64, err error) {
	day := dayKey(time.Now())
	uniqueIPs, err = t.store.SCard(ctx, uniqueIPsKey(day))
	if err != nil {
		return 0, 0, err
	}
	raw, err := t.store.Get(ctx, messageCountKey(day))
	if err == store.ErrNotFound {
		return uniqueIPs, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	messageCount = parseInt(raw)
	return uniqueIPs, messageCount, nil
}

// CityStat is one row of GET /api/stats/cities.
type CityStat struct {
	City         string  `json:"city"`
	Views        int64   `json:"views"`
	DailyAverage float64 `json:"daily_average"`
}

// CityView returns city's total views across the trailing 7 daily
// buckets and the average of those buckets (spec's "computed over the
// trailing 7 daily buckets").
func (t *Tracker) CityView(ctx context.Context, city string) (CityStat, error) {
	now := time.Now()
	var total int64
	for i := 0; i < cityViewWindow; i++ {
		day := dayKey(now.AddDate(0, 0, -i))
		raw, err := t.store.Get(ctx, cityViewsKey(city, day))
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return CityStat{}, err
		}
		total += parseInt(raw)
	}
	return CityStat{City: city, Views: total, DailyAverage: float64(total) / cityViewWindow}, nil
}

func parseInt(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
