package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edscal/internal/backend"
	appLog "edscal/internal/log"
)

// Feed represents a single ICS subscription source.
type Feed struct {
	// ID is used as the source uid.
	ID string
	// Name is the display name.
	Name    string
	URL     string
	Enabled bool
}

// FeedBackend serves ICS subscriptions through the backend interface. It has
// no native range predicate, so clients evaluate occur-in-time-range in Go.
type FeedBackend struct {
	client         *http.Client
	feeds          []Feed
	norm           Normalizer
	maxOccurrences int
}

// NewFeedBackend creates a backend for the given feeds. norm must match the
// Normalizer the extractor uses so local filtering agrees with the output.
func NewFeedBackend(feeds []Feed, norm Normalizer, maxOccurrences int) *FeedBackend {
	return &FeedBackend{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		feeds:          feeds,
		norm:           norm,
		maxOccurrences: maxOccurrences,
	}
}

func (b *FeedBackend) Name() string { return "ics" }

// Probe succeeds when at least one feed is configured.
func (b *FeedBackend) Probe(_ context.Context) error {
	if len(b.feeds) == 0 {
		return fmt.Errorf("%w: no ICS feeds configured", backend.ErrUnavailable)
	}
	return nil
}

func (b *FeedBackend) Sources(_ context.Context) ([]backend.Source, error) {
	out := make([]backend.Source, 0, len(b.feeds))
	for _, f := range b.feeds {
		out = append(out, backend.Source{
			UID:     f.ID,
			Name:    f.Name,
			Enabled: f.Enabled,
		})
	}
	return out, nil
}

// Connect fetches the feed body once. Queries then run against it.
func (b *FeedBackend) Connect(ctx context.Context, src backend.Source) (backend.Client, error) {
	var feed *Feed
	for i := range b.feeds {
		if b.feeds[i].ID == src.UID {
			feed = &b.feeds[i]
			break
		}
	}
	if feed == nil {
		return nil, fmt.Errorf("unknown feed %q", src.UID)
	}
	body, err := b.fetch(ctx, *feed)
	if err != nil {
		return nil, err
	}
	return &feedClient{
		feed:           *feed,
		body:           body,
		norm:           b.norm,
		maxOccurrences: b.maxOccurrences,
	}, nil
}

func (b *FeedBackend) fetch(ctx context.Context, f Feed) (string, error) {
	if f.URL == "" {
		return "", errors.New("source URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/calendar")

	appLog.Debug("ics fetch start", "id", f.ID, "url", redactURL(f.URL))

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", redactURL(f.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", redactURL(f.URL), resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", redactURL(f.URL), err)
	}

	appLog.Debug("ics fetch success", "id", f.ID, "url", redactURL(f.URL), "bytes", len(data))
	return string(data), nil
}

type feedClient struct {
	feed           Feed
	body           string
	norm           Normalizer
	maxOccurrences int
}

// Query returns the VEVENT blocks of the feed that occur in r. Blocks that
// fail to parse are passed through so the extractor logs them like any other
// bad object.
func (c *feedClient) Query(_ context.Context, r backend.Range) ([]string, error) {
	blocks := SplitEvents(c.body)
	out := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		comps, err := ParseComponents(blk)
		if err != nil || len(comps) == 0 {
			out = append(out, blk)
			continue
		}
		ev, err := c.norm.ResolveEvent(comps[0])
		if err != nil {
			out = append(out, blk)
			continue
		}
		if OccursIn(ev, r, c.maxOccurrences) {
			out = append(out, blk)
		}
	}
	return out, nil
}

func (c *feedClient) Close() error { return nil }

// SplitEvents cuts a VCALENDAR body into its top-level VEVENT blocks. Nested
// components such as VALARM stay inside their event.
func SplitEvents(body string) []string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	var (
		out   []string
		cur   []string
		depth int
	)
	for _, line := range lines {
		upper := strings.ToUpper(strings.TrimRight(line, " \t"))
		switch {
		case upper == "BEGIN:VEVENT" && depth == 0:
			depth = 1
			cur = []string{line}
			continue
		case depth == 0:
			continue
		case strings.HasPrefix(upper, "BEGIN:"):
			depth++
		case strings.HasPrefix(upper, "END:"):
			depth--
		}
		cur = append(cur, line)
		if depth == 0 {
			out = append(out, strings.Join(cur, "\r\n"))
			cur = nil
		}
	}
	return out
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	_, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "ics://...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	return u[:len(u)-len(rest)] + host + redactedSuffix
}
