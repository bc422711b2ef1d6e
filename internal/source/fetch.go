package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPFetcher reads raw files from a raw-content host laid out as
// {base}/{owner}/{repo}/{branch}/{path}/{file}.
type HTTPFetcher struct {
	base string
	http httpOptions
}

func NewHTTPFetcher(rawBaseURL string, opts ...HTTPOption) *HTTPFetcher {
	return &HTTPFetcher{
		base: strings.TrimRight(rawBaseURL, "/"),
		http: newHTTPOptions(opts),
	}
}

func (f *HTTPFetcher) FileURL(loc Locator, file string) string {
	segs := []string{loc.Owner, loc.Repo, loc.Branch}
	if loc.Path != "" {
		segs = append(segs, strings.Split(loc.Path, "/")...)
	}
	segs = append(segs, strings.Split(file, "/")...)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return f.base + "/" + strings.Join(segs, "/")
}

func (f *HTTPFetcher) Fetch(ctx context.Context, loc Locator, file string) (string, error) {
	if loc.Branch == "" {
		return "", fmt.Errorf("SRC_FETCH: locator %s has no branch", loc.Slug())
	}
	status, body, err := f.http.get(ctx, f.FileURL(loc, file))
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return string(body), nil
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, file, loc)
	default:
		return "", fmt.Errorf("SRC_FETCH: %s in %s: unexpected status %d", file, loc, status)
	}
}

// Branches names the conventional default branch and its alternate.
type Branches struct {
	Default  string
	Fallback string
}

func (b Branches) alternate(branch string) string {
	switch branch {
	case b.Default:
		return b.Fallback
	case b.Fallback:
		return b.Default
	default:
		return ""
	}
}

// FetchWithFallback fetches file, retrying once on the alternate
// conventional branch when the first attempt is not found. It returns the
// locator that succeeded.
func FetchWithFallback(ctx context.Context, f Fetcher, loc Locator, file string, b Branches) (string, Locator, error) {
	if loc.Branch == "" {
		loc.Branch = b.Default
	}
	content, err := f.Fetch(ctx, loc, file)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return content, loc, err
	}
	alt := b.alternate(loc.Branch)
	if alt == "" || alt == loc.Branch {
		return "", loc, err
	}
	retry := loc
	retry.Branch = alt
	content, err = f.Fetch(ctx, retry, file)
	if err != nil {
		return "", loc, err
	}
	return content, retry, nil
}
