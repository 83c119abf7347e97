package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// DefaultProviders returns the standard fallback chain: ipapi.co, then
// ip-api.com, then ipinfo.io. The ipinfo entry is appended only when a
// token is configured, since ipinfo rejects anonymous lookups quickly.
func DefaultProviders(client *http.Client, ipinfoToken string) []Provider {
	providers := []Provider{
		NewIPAPICo(client),
		NewIPAPICom(client),
	}
	if ipinfoToken != "" {
		providers = append(providers, NewIPInfo(client, ipinfoToken))
	}
	return providers
}

type ipapiCo struct {
	client  *http.Client
	baseURL string
}

// NewIPAPICo returns the ipapi.co provider.
func NewIPAPICo(client *http.Client) Provider {
	return &ipapiCo{client: orDefault(client), baseURL: "https://ipapi.co"}
}

func (p *ipapiCo) Name() string { return "ipapi.co" }

func (p *ipapiCo) Lookup(ctx context.Context, ip string) (Location, error) {
	var body struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country_name"`
		Error   bool   `json:"error"`
		Reason  string `json:"reason"`
	}

	endpoint := fmt.Sprintf("%s/%s/json/", p.baseURL, url.PathEscape(ip))
	if err := getJSON(ctx, p.client, endpoint, &body); err != nil {
		return Location{}, err
	}
	if body.Error {
		return Location{}, fmt.Errorf("ipapi.co: %s", body.Reason)
	}

	return Location{City: body.City, Region: body.Region, Country: body.Country}, nil
}

type ipAPICom struct {
	client  *http.Client
	baseURL string
}

// NewIPAPICom returns the ip-api.com provider. The free tier is plain
// HTTP only.
func NewIPAPICom(client *http.Client) Provider {
	return &ipAPICom{client: orDefault(client), baseURL: "http://ip-api.com"}
}

func (p *ipAPICom) Name() string { return "ip-api.com" }

func (p *ipAPICom) Lookup(ctx context.Context, ip string) (Location, error) {
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		City    string `json:"city"`
		Region  string `json:"regionName"`
		Country string `json:"country"`
	}

	endpoint := fmt.Sprintf("%s/json/%s", p.baseURL, url.PathEscape(ip))
	if err := getJSON(ctx, p.client, endpoint, &body); err != nil {
		return Location{}, err
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("ip-api.com: %s", body.Message)
	}

	return Location{City: body.City, Region: body.Region, Country: body.Country}, nil
}

type ipinfo struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewIPInfo returns the ipinfo.io provider. Its country field is an
// ISO code, not a name.
func NewIPInfo(client *http.Client, token string) Provider {
	return &ipinfo{client: orDefault(client), baseURL: "https://ipinfo.io", token: token}
}

func (p *ipinfo) Name() string { return "ipinfo.io" }

func (p *ipinfo) Lookup(ctx context.Context, ip string) (Location, error) {
	var body struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
	}

	endpoint := fmt.Sprintf("%s/%s/json", p.baseURL, url.PathEscape(ip))
	if p.token != "" {
		endpoint += "?token=" + url.QueryEscape(p.token)
	}
	if err := getJSON(ctx, p.client, endpoint, &body); err != nil {
		return Location{}, err
	}

	return Location{City: body.City, Region: body.Region, Country: body.Country}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status " + resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func orDefault(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}
