package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	// Register decoders for the formats video platforms serve.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

const artworkSize = 600

var thumbnailHTTP = &http.Client{Timeout: 10 * time.Second}

// bestThumbnailURL picks the largest usable thumbnail, skipping webp
// variants that tag software cannot embed.
func bestThumbnailURL(src *SourceInfo) string {
	if len(src.Thumbnails) == 0 {
		return src.Thumbnail
	}
	sorted := make([]SourceThumbnail, len(src.Thumbnails))
	copy(sorted, src.Thumbnails)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Width*sorted[i].Height > sorted[j].Width*sorted[j].Height
	})
	for _, t := range sorted {
		if t.URL != "" && !strings.HasSuffix(t.URL, ".webp") {
			return t.URL
		}
	}
	if sorted[0].URL != "" {
		return sorted[0].URL
	}
	return src.Thumbnail
}

// fetchThumbnailBytes downloads thumbnail bytes with browser-like headers
// (Facebook/Instagram/TikTok CDNs reject bare clients).
func fetchThumbnailBytes(url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("no thumbnail url")
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.facebook.com/")

	resp, err := thumbnailHTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thumbnail fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	ctype := resp.Header.Get("Content-Type")
	if !strings.Contains(ctype, "image") && len(data) <= 1000 {
		return nil, errors.New("response does not look like an image")
	}
	return data, nil
}

// saveArtwork normalizes raw image bytes to a square 600x600 JPEG at the
// given path: center-crop to square, then Catmull-Rom resample.
func saveArtwork(data []byte, path string) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode artwork: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w != h {
		side := w
		if h < side {
			side = h
		}
		left := b.Min.X + (w-side)/2
		top := b.Min.Y + (h-side)/2
		square := image.NewRGBA(image.Rect(0, 0, side, side))
		draw.Draw(square, square.Bounds(), img, image.Pt(left, top), draw.Src)
		img = square
	}

	out := image.NewRGBA(image.Rect(0, 0, artworkSize, artworkSize))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, out, &jpeg.Options{Quality: 95})
}

// downloadArtwork fetches and normalizes cover art; returns false when
// anything goes wrong (artwork is always best-effort).
func downloadArtwork(url, path string) bool {
	data, err := fetchThumbnailBytes(url)
	if err != nil {
		return false
	}
	if err := saveArtwork(data, path); err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// thumbnailCache backs the thumbnail proxy endpoint for platforms whose
// CDNs block hotlinking. Bytes are fetched lazily and expire by age.
type thumbnailCache struct {
	mu      sync.Mutex
	entries map[string]*thumbnailEntry
}

type thumbnailEntry struct {
	URL      string
	Data     []byte
	StoredAt time.Time
}

func newThumbnailCache() *thumbnailCache {
	return &thumbnailCache{entries: make(map[string]*thumbnailEntry)}
}

func (c *thumbnailCache) Put(id, url string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = &thumbnailEntry{URL: url, Data: data, StoredAt: time.Now()}
}

func (c *thumbnailCache) Get(id string) (string, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return "", nil, false
	}
	return e.URL, e.Data, true
}

func (c *thumbnailCache) SetData(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.Data = data
	}
}

// Expire drops entries older than ttl; called from the janitor loop.
func (c *thumbnailCache) Expire(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.StoredAt.Before(cutoff) {
			delete(c.entries, id)
		}
	}
}

func (c *thumbnailCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
