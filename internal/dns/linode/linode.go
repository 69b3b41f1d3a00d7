// Package linode implements dns.Provider against the Linode DNS Manager API v4.
package linode

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/linode/linodego"
	"golang.org/x/oauth2"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/dns"
)

const (
	// DefaultBaseURL is the public Linode API endpoint.
	DefaultBaseURL = "https://api.linode.com/v4"

	defaultTTL      = 300
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	userAgent       = "yk-acme-hook"
)

func init() {
	dns.Register("linode", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for Linode DNS Manager.
type Provider struct {
	client     *linodego.Client
	httpClient *http.Client
	baseURL    string
	defaultTTL int
	pageSize   int
	log        logr.Logger
}

// New creates a Linode DNS provider from the given settings map.
// Required settings: api_token.
// Optional settings: base_url, default_ttl (default 300), timeout (default 30s),
// page_size (default 100), skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	apiToken := strings.TrimSpace(settings["api_token"])
	if apiToken == "" {
		return nil, fmt.Errorf("linode: missing required setting 'api_token'")
	}

	baseURL := strings.TrimRight(settings["base_url"], "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	root, version, err := splitBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	ttl := defaultTTL
	if v := settings["default_ttl"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("linode: invalid default_ttl %q: %w", v, err)
		}
		ttl = parsed
	}

	pageSize := defaultPageSize
	if v := settings["page_size"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 25 || parsed > 500 {
			return nil, fmt.Errorf("linode: invalid page_size %q: must be between 25 and 500", v)
		}
		pageSize = parsed
	}

	timeout := defaultTimeout
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("linode: invalid timeout %q: %w", v, err)
		}
		timeout = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken}),
			Base:   transport,
		},
	}

	client := linodego.NewClient(httpClient)
	client.SetUserAgent(userAgent)
	client.SetBaseURL(root)
	client.SetAPIVersion(version)
	// The ACME client owns retries.
	client.SetRetryCount(0)

	return &Provider{
		client:     &client,
		httpClient: httpClient,
		baseURL:    baseURL,
		defaultTTL: ttl,
		pageSize:   pageSize,
		log:        log,
	}, nil
}

// splitBaseURL splits "https://api.linode.com/v4" into the API root and the
// version segment linodego expects separately. A URL without a path gets v4.
func splitBaseURL(raw string) (root, version string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("linode: invalid base_url %q", raw)
	}
	version = "v4"
	if p := strings.Trim(u.Path, "/"); p != "" {
		version = path.Base(p)
		u.Path = path.Dir("/" + p)
	}
	return strings.TrimRight(u.String(), "/"), version, nil
}

// IsUnauthorized reports whether err carries an authentication failure.
func IsUnauthorized(err error) bool {
	var apiErr *linodego.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
}

func (p *Provider) listOptions() *linodego.ListOptions {
	return &linodego.ListOptions{PageOptions: &linodego.PageOptions{}, PageSize: p.pageSize}
}

// findDomain picks the zone holding hostname. A zone pinned through
// Meta["zone"] must exist and contain hostname; otherwise the longest
// suffix match wins.
func (p *Provider) findDomain(ctx context.Context, hostname, pinned string) (linodego.Domain, error) {
	domains, err := p.client.ListDomains(ctx, p.listOptions())
	if err != nil {
		return linodego.Domain{}, fmt.Errorf("linode: listing domains: %w", err)
	}

	if pinned != "" {
		if !dns.InZone(hostname, pinned) {
			return linodego.Domain{}, fmt.Errorf("linode: %s is outside pinned zone %q: %w", hostname, pinned, dns.ErrZoneNotFound)
		}
		for _, d := range domains {
			if dns.Normalize(d.Domain) == dns.Normalize(pinned) {
				return d, nil
			}
		}
		return linodego.Domain{}, fmt.Errorf("linode: zone %q for %s: %w", pinned, hostname, dns.ErrZoneNotFound)
	}

	var best linodego.Domain
	for _, d := range domains {
		if dns.InZone(hostname, d.Domain) && len(d.Domain) > len(best.Domain) {
			best = d
		}
	}
	if best.ID == 0 {
		return linodego.Domain{}, fmt.Errorf("linode: no domain contains %s: %w", hostname, dns.ErrZoneNotFound)
	}
	p.log.V(1).Info("resolved zone", "hostname", hostname, "zone", best.Domain, "domainID", best.ID)
	return best, nil
}

// findRecord returns the zone and the matching record, with a nil record
// when the zone has no record of that name, type and value.
func (p *Provider) findRecord(ctx context.Context, r dns.Record) (linodego.Domain, *linodego.DomainRecord, error) {
	d, err := p.findDomain(ctx, r.Hostname, r.Meta["zone"])
	if err != nil {
		return linodego.Domain{}, nil, err
	}

	records, err := p.client.ListDomainRecords(ctx, d.ID, p.listOptions())
	if err != nil {
		return d, nil, fmt.Errorf("linode: listing records of %s: %w", d.Domain, err)
	}

	name := dns.RelativeName(r.Hostname, d.Domain)
	for i := range records {
		rec := records[i]
		if strings.EqualFold(string(rec.Type), r.Type) &&
			strings.EqualFold(rec.Name, name) &&
			rec.Target == r.Value {
			return d, &rec, nil
		}
	}
	return d, nil, nil
}

// Exists checks whether a record with the given hostname, type and value exists.
func (p *Provider) Exists(ctx context.Context, r dns.Record) (bool, error) {
	p.log.V(1).Info("checking if record exists", "hostname", r.Hostname, "type", r.Type)
	_, rec, err := p.findRecord(ctx, r)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Create adds a new record to the zone holding r.Hostname.
func (p *Provider) Create(ctx context.Context, r dns.Record) error {
	p.log.Info("creating record", "hostname", r.Hostname, "type", r.Type, "value", r.Value)

	d, err := p.findDomain(ctx, r.Hostname, r.Meta["zone"])
	if err != nil {
		return err
	}

	ttl := r.TTL
	if ttl == 0 {
		ttl = p.defaultTTL
	}
	created, err := p.client.CreateDomainRecord(ctx, d.ID, linodego.DomainRecordCreateOptions{
		Type:   linodego.DomainRecordType(r.Type),
		Name:   dns.RelativeName(r.Hostname, d.Domain),
		Target: r.Value,
		TTLSec: ttl,
	})
	if err != nil {
		return fmt.Errorf("linode: creating %s record in %s: %w", r.Type, d.Domain, err)
	}

	p.log.Info("record created", "zone", d.Domain, "id", created.ID)
	return nil
}

// Delete removes the record matching r's hostname, type and value.
func (p *Provider) Delete(ctx context.Context, r dns.Record) error {
	p.log.Info("deleting record", "hostname", r.Hostname, "type", r.Type, "value", r.Value)

	d, rec, err := p.findRecord(ctx, r)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("linode: %s %s in %s: %w", r.Type, r.Hostname, d.Domain, dns.ErrRecordNotFound)
	}

	if err := p.client.DeleteDomainRecord(ctx, d.ID, rec.ID); err != nil {
		return fmt.Errorf("linode: deleting record %d in %s: %w", rec.ID, d.Domain, err)
	}

	p.log.Info("record deleted", "zone", d.Domain, "id", rec.ID)
	return nil
}
