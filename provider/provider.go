// Package provider fetches wallpaper images from remote image services.
// Providers are interchangeable and keyed off a deterministic per-day seed,
// so repeated requests on the same day for the same resolution ask for the
// same image. The cache service tries providers in priority order.
package provider

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	freshtab "github.com/freshtab/freshtab"
)

// Provider builds image URLs for a remote wallpaper service.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// ImageURL returns the URL of the image for the given dimensions and
	// daily seed. The same inputs always yield the same URL.
	ImageURL(width, height int, seed string) string
}

// Seed derives the deterministic daily seed for a resolution. Stable within
// a reference-offset calendar day so all fetches that day agree.
func Seed(day string, r freshtab.Resolution) string {
	return day + "-" + string(r)
}

// Picsum serves images from picsum.photos. Seeded URLs are stable: the same
// seed always maps to the same photo.
type Picsum struct {
	baseURL string
}

// PicsumOption configures a Picsum provider.
type PicsumOption func(*Picsum)

// WithPicsumBaseURL overrides the service URL, mainly for tests.
func WithPicsumBaseURL(u string) PicsumOption {
	return func(p *Picsum) {
		p.baseURL = strings.TrimSuffix(u, "/")
	}
}

// NewPicsum creates the Picsum provider.
func NewPicsum(opts ...PicsumOption) *Picsum {
	p := &Picsum{baseURL: "https://picsum.photos"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *Picsum) Name() string {
	return "picsum"
}

// ImageURL implements Provider.
func (p *Picsum) ImageURL(width, height int, seed string) string {
	return fmt.Sprintf("%s/seed/%s/%d/%d.jpg", p.baseURL, url.PathEscape(seed), width, height)
}

// LoremFlickr serves images from loremflickr.com. Determinism comes from the
// lock parameter, derived by hashing the seed.
type LoremFlickr struct {
	baseURL string
	topic   string
}

// LoremFlickrOption configures a LoremFlickr provider.
type LoremFlickrOption func(*LoremFlickr)

// WithLoremFlickrBaseURL overrides the service URL, mainly for tests.
func WithLoremFlickrBaseURL(u string) LoremFlickrOption {
	return func(l *LoremFlickr) {
		l.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithLoremFlickrTopic sets the image topic keyword.
func WithLoremFlickrTopic(topic string) LoremFlickrOption {
	return func(l *LoremFlickr) {
		l.topic = topic
	}
}

// NewLoremFlickr creates the LoremFlickr provider.
func NewLoremFlickr(opts ...LoremFlickrOption) *LoremFlickr {
	l := &LoremFlickr{
		baseURL: "https://loremflickr.com",
		topic:   "landscape",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Provider.
func (l *LoremFlickr) Name() string {
	return "loremflickr"
}

// ImageURL implements Provider.
func (l *LoremFlickr) ImageURL(width, height int, seed string) string {
	return fmt.Sprintf("%s/%d/%d/%s?lock=%d", l.baseURL, width, height, url.PathEscape(l.topic), lockFor(seed))
}

// lockFor maps a seed to the provider's numeric lock space.
func lockFor(seed string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return h.Sum32() % 10000
}
