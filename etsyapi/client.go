// Package etsyapi is a client for the Etsy Open API v3: public listing and
// shop reads, seller listing pagination and OAuth token refresh.
package etsyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"listingsync/acqerr"
	"listingsync/config"
	"listingsync/models"
)

const maxPageSize = 100

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	oauth   *oauth2.Config
	logger  *zap.Logger
}

// NewClient validates credentials eagerly. Missing configuration is a
// non-retryable acqerr Configuration error.
func NewClient(cfg config.EtsyConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "ETSY_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "ETSY_CLIENT_SECRET")
	}
	if cfg.APIBaseURL == "" {
		missing = append(missing, "ETSY_API_BASE_URL")
	}
	if len(missing) > 0 {
		return nil, acqerr.Configuration("etsyapi", "missing "+strings.Join(missing, ", "))
	}
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, acqerr.Configuration("etsyapi", "invalid ETSY_API_BASE_URL: "+err.Error())
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.ClientID + ":" + cfg.ClientSecret,
		http:    httpClient,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: logger.With(zap.String("component", "etsyapi")),
	}, nil
}

// GetListing fetches one public listing with images, shop and shipping.
func (c *Client) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	if _, err := strconv.ParseInt(listingID, 10, 64); err != nil {
		return nil, acqerr.InvalidURL("etsyapi.GetListing", listingID, "listing id must be numeric")
	}
	q := url.Values{"includes": {"Images,Shop,Shipping"}}

	var raw json.RawMessage
	if err := c.get(ctx, "/v3/application/listings/"+listingID, q, "", &raw); err != nil {
		return nil, err
	}
	return decodeListing(raw)
}

// FindShop looks a shop up by its name.
func (c *Client) FindShop(ctx context.Context, name string) (*Shop, error) {
	var resp shopsResponse
	q := url.Values{"shop_name": {name}}
	if err := c.get(ctx, "/v3/application/shops", q, "", &resp); err != nil {
		return nil, err
	}
	for i := range resp.Results {
		if strings.EqualFold(resp.Results[i].ShopName, name) {
			return &resp.Results[i], nil
		}
	}
	return nil, acqerr.NotFound("etsyapi.FindShop", name, 0)
}

// FindActiveListings searches active listings. Empty keywords ranks the whole
// marketplace by score.
func (c *Client) FindActiveListings(ctx context.Context, keywords string, limit int) ([]*Listing, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	q := url.Values{
		"limit":    {strconv.Itoa(limit)},
		"sort_on":  {"score"},
		"includes": {"Images,Shop"},
	}
	if keywords != "" {
		q.Set("keywords", keywords)
	}

	var resp listingsResponse
	if err := c.get(ctx, "/v3/application/listings/active", q, "", &resp); err != nil {
		return nil, err
	}
	return decodeListings(resp.Results)
}

// PageOptions controls one page of a seller listings walk.
type PageOptions struct {
	Cursor        string
	Limit         int
	ModifiedSince *time.Time
}

// ListingsPage is one page of seller listings. NextCursor is nil on the last page.
type ListingsPage struct {
	Listings   []*Listing
	NextCursor *string
	Total      int
}

// ListShopListings returns one page of a shop's active listings, newest
// modification first. The cursor is the result offset. With ModifiedSince set,
// listings older than the cutoff are dropped and pagination stops at the first
// page that reaches past it.
func (c *Client) ListShopListings(ctx context.Context, accessToken, shopID string, opts PageOptions) (*ListingsPage, error) {
	offset := 0
	if opts.Cursor != "" {
		o, err := strconv.Atoi(opts.Cursor)
		if err != nil || o < 0 {
			return nil, fmt.Errorf("invalid cursor %q", opts.Cursor)
		}
		offset = o
	}
	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{
		"state":      {"active"},
		"limit":      {strconv.Itoa(limit)},
		"offset":     {strconv.Itoa(offset)},
		"sort_on":    {"updated"},
		"sort_order": {"desc"},
		"includes":   {"Images"},
	}

	var resp listingsResponse
	if err := c.get(ctx, "/v3/application/shops/"+url.PathEscape(shopID)+"/listings", q, accessToken, &resp); err != nil {
		return nil, err
	}
	listings, err := decodeListings(resp.Results)
	if err != nil {
		return nil, err
	}

	page := &ListingsPage{Total: resp.Count}
	reachedCutoff := false
	for _, l := range listings {
		if opts.ModifiedSince != nil {
			if mod := l.LastModified(); mod != nil && mod.Before(*opts.ModifiedSince) {
				reachedCutoff = true
				continue
			}
		}
		page.Listings = append(page.Listings, l)
	}

	next := offset + len(resp.Results)
	if !reachedCutoff && len(resp.Results) > 0 && next < resp.Count {
		cursor := strconv.Itoa(next)
		page.NextCursor = &cursor
	}
	return page, nil
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if c.oauth.Endpoint.TokenURL == "" {
		return nil, acqerr.Configuration("etsyapi.RefreshToken", "missing ETSY_TOKEN_URL")
	}
	if refreshToken == "" {
		return nil, acqerr.Configuration("etsyapi.RefreshToken", "account has no refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	src := c.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			if e := acqerr.FromStatus("etsyapi.RefreshToken", c.oauth.Endpoint.TokenURL, re.Response.StatusCode); e != nil {
				e.Err = err
				return nil, e
			}
		}
		return nil, acqerr.FromTransport("etsyapi.RefreshToken", c.oauth.Endpoint.TokenURL, err)
	}

	pair := &models.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	c.logger.Info("refreshed oauth token", zap.Time("expires_at", pair.ExpiresAt))
	return pair, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, accessToken string, out interface{}) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	op := "etsyapi GET " + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return acqerr.FromTransport(op, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return acqerr.FetchFailed(op, endpoint, resp.StatusCode, err)
	}

	if e := acqerr.FromStatus(op, endpoint, resp.StatusCode); e != nil {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			e.Msg = apiErr.Error
		}
		return e
	}

	if err := json.Unmarshal(body, out); err != nil {
		return acqerr.FetchFailed(op, endpoint, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func decodeListing(raw json.RawMessage) (*Listing, error) {
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	l.Raw = raw
	return &l, nil
}

func decodeListings(raws []json.RawMessage) ([]*Listing, error) {
	out := make([]*Listing, 0, len(raws))
	for _, raw := range raws {
		l, err := decodeListing(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
