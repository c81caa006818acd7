package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPResolver reads the catalog from a remote JSON API:
//
//	GET {base}/clips            -> [clip, ...]
//	GET {base}/clips?ids=a,b,c  -> [clip, ...]
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver returns a resolver for baseURL with a per-request timeout.
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ResolveAll implements Resolver.ResolveAll.
func (r *HTTPResolver) ResolveAll(ctx context.Context) ([]Clip, error) {
	return r.get(ctx, r.baseURL+"/clips")
}

// ResolveByIDs implements Resolver.ResolveByIDs.
func (r *HTTPResolver) ResolveByIDs(ctx context.Context, ids []string) (map[string]Clip, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	clips, err := r.get(ctx, r.baseURL+"/clips?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return indexByID(clips, ids), nil
}

func (r *HTTPResolver) get(ctx context.Context, u string) ([]Clip, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", u, resp.StatusCode)
	}

	var clips []Clip
	if err := json.NewDecoder(resp.Body).Decode(&clips); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return clips, nil
}

// indexByID keeps the clips whose id is in ids. Clips without an id are dropped.
func indexByID(clips []Clip, ids []string) map[string]Clip {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[string]Clip, len(ids))
	for _, c := range clips {
		if c.ID == "" {
			continue
		}
		if _, ok := want[c.ID]; ok {
			out[c.ID] = c
		}
	}
	return out
}
