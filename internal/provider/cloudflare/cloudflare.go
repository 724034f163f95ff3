package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudflare/cloudflare-go"

	"github.com/evanofslack/dns-prefix-sync/internal/config"
	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
	"github.com/evanofslack/dns-prefix-sync/internal/provider"
)

const (
	recordType = "A"
	perPage    = 100
)

// CloudflareProvider manages the A records of one name in one zone.
type CloudflareProvider struct {
	client *Client
	zoneID string
	name   string
	ttl    int
}

// New builds a provider from configuration. When only a zone name is
// configured the zone id is looked up once through the Cloudflare SDK.
func New(cfg config.Cloudflare, retry config.Retry, metrics *metrics.Metrics) (*CloudflareProvider, error) {
	if cfg.Email == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("cloudflare email and api key required")
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	zoneID := cfg.ZoneID
	if zoneID == "" {
		id, err := lookupZoneID(cfg, httpClient)
		if err != nil {
			return nil, err
		}
		zoneID = id
	}

	policy := Backoff{Retries: retry.RetryCeiling(), Base: retry.Base, Cap: retry.Cap}
	client := NewClient(cfg.BaseURL, cfg.Email, cfg.APIKey, httpClient, policy, metrics)
	return NewWithClient(client, zoneID, cfg.RecordName, cfg.TTL), nil
}

func NewWithClient(client *Client, zoneID, name string, ttl int) *CloudflareProvider {
	return &CloudflareProvider{
		client: client,
		zoneID: zoneID,
		name:   name,
		ttl:    ttl,
	}
}

func lookupZoneID(cfg config.Cloudflare, httpClient *http.Client) (string, error) {
	if cfg.ZoneName == "" {
		return "", fmt.Errorf("cloudflare zone id or zone name required")
	}
	api, err := cloudflare.New(cfg.APIKey, cfg.Email,
		cloudflare.BaseURL(cfg.BaseURL),
		cloudflare.HTTPClient(httpClient),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create Cloudflare client: %w", err)
	}
	id, err := api.ZoneIDByName(cfg.ZoneName)
	if err != nil {
		return "", fmt.Errorf("failed to get zone ID for %s: %w", cfg.ZoneName, err)
	}
	slog.Info("Resolved zone", "zone", cfg.ZoneName, "id", id)
	return id, nil
}

// recordBody is the write payload. Field set and order match the API exactly.
type recordBody struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

func (p *CloudflareProvider) recordsPath() string {
	return fmt.Sprintf("/zones/%s/dns_records", p.zoneID)
}

func (p *CloudflareProvider) recordPath(id string) string {
	return fmt.Sprintf("/zones/%s/dns_records/%s", p.zoneID, url.PathEscape(id))
}

// GetRecords lists every A record for the configured name, in the order
// the provider returns them.
func (p *CloudflareProvider) GetRecords(ctx context.Context) ([]provider.Record, error) {
	slog.Debug("Getting DNS records", "zone", p.zoneID, "name", p.name)
	start := time.Now()

	var all []cloudflare.DNSRecord
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("type", recordType)
		query.Set("name", p.name)
		query.Set("page", fmt.Sprint(page))
		query.Set("per_page", fmt.Sprint(perPage))

		resp := p.client.Do(ctx, http.MethodGet, p.recordsPath()+"?"+query.Encode(), nil)
		if err := resp.Err(); err != nil {
			return nil, fmt.Errorf("failed to list DNS records: %w", err)
		}

		var records []cloudflare.DNSRecord
		if err := json.Unmarshal(resp.Result, &records); err != nil {
			return nil, fmt.Errorf("failed to parse DNS records: %w", err)
		}
		all = append(all, records...)

		if resp.ResultInfo == nil || page >= resp.ResultInfo.TotalPages {
			break
		}
	}

	result := make([]provider.Record, 0, len(all))
	for _, r := range all {
		result = append(result, provider.Record{
			ID:   r.ID,
			Name: r.Name,
			Type: r.Type,
			Data: r.Content,
			TTL:  time.Duration(r.TTL) * time.Second,
		})
	}
	slog.Debug("Retrieved DNS records", "zone", p.zoneID, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *CloudflareProvider) body(record provider.Record) (recordBody, error) {
	addr, err := provider.ToLibdns(record)
	if err != nil {
		return recordBody{}, err
	}
	if !addr.IP.Is4() {
		return recordBody{}, fmt.Errorf("address %s is not IPv4", addr.IP)
	}
	return recordBody{
		Type:    recordType,
		Name:    p.name,
		Content: addr.RR().Data,
		TTL:     p.ttl,
	}, nil
}

func (p *CloudflareProvider) CreateRecord(ctx context.Context, record provider.Record) error {
	slog.Debug("Creating DNS record", "name", p.name, "data", record.Data)
	body, err := p.body(record)
	if err != nil {
		return err
	}
	if err := p.client.Do(ctx, http.MethodPost, p.recordsPath(), body).Err(); err != nil {
		return fmt.Errorf("failed to create DNS record: %w", err)
	}
	return nil
}

func (p *CloudflareProvider) UpdateRecord(ctx context.Context, record provider.Record) error {
	slog.Debug("Updating DNS record", "id", record.ID, "name", p.name, "data", record.Data)
	if record.ID == "" {
		return fmt.Errorf("update requires a record id")
	}
	body, err := p.body(record)
	if err != nil {
		return err
	}
	if err := p.client.Do(ctx, http.MethodPut, p.recordPath(record.ID), body).Err(); err != nil {
		return fmt.Errorf("failed to update DNS record %s: %w", record.ID, err)
	}
	return nil
}

func (p *CloudflareProvider) DeleteRecord(ctx context.Context, record provider.Record) error {
	slog.Debug("Deleting DNS record", "id", record.ID, "name", p.name)
	if record.ID == "" {
		return fmt.Errorf("delete requires a record id")
	}
	if err := p.client.Do(ctx, http.MethodDelete, p.recordPath(record.ID), nil).Err(); err != nil {
		return fmt.Errorf("failed to delete DNS record %s: %w", record.ID, err)
	}
	return nil
}
