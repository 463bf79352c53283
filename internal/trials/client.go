// ABOUTME: HTTP client for the ClinicalTrials.gov API v2
// ABOUTME: Builds study search and lookup requests with the registry's parameter conventions

package trials

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public ClinicalTrials.gov API v2 endpoint.
const DefaultBaseURL = "https://clinicaltrials.gov/api/v2"

// maxResponseBytes caps how much of a registry response is read. Study
// records are large but bounded; anything past this is a misbehaving
// upstream.
const maxResponseBytes = 4 << 20

// Client talks to the ClinicalTrials.gov registry. Responses are
// returned as opaque text (JSON with Markdown markup) for the model to
// consume.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a registry client. Pass an empty baseURL for the
// public endpoint.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "trials"),
	}
}

// ListStudiesParams mirrors the /studies query surface. Zero values are
// omitted from the request.
type ListStudiesParams struct {
	QueryCond    string // condition/disease (Essie syntax)
	QueryTerm    string // other terms
	QueryLocn    string // location terms
	QueryTitles  string // title/acronym
	QueryIntr    string // intervention/treatment
	QueryOutc    string // outcome measure
	QuerySpons   string // sponsor/collaborator
	QueryLead    string // lead sponsor name
	QueryID      string // study IDs
	QueryPatient string // patient search

	FilterOverallStatus []string
	FilterIDs           []string
	FilterAdvanced      string
	FilterSynonyms      []string
	AggFilters          string

	Fields []string
	Sort   []string

	CountTotal bool
	PageSize   int
	PageToken  string
}

// ListStudies returns the studies matching the query and filter
// parameters as registry JSON.
func (c *Client) ListStudies(ctx context.Context, p ListStudiesParams) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("markupFormat", "markdown")

	setIfNotEmpty(q, "query.cond", p.QueryCond)
	setIfNotEmpty(q, "query.term", p.QueryTerm)
	setIfNotEmpty(q, "query.locn", p.QueryLocn)
	setIfNotEmpty(q, "query.titles", p.QueryTitles)
	setIfNotEmpty(q, "query.intr", p.QueryIntr)
	setIfNotEmpty(q, "query.outc", p.QueryOutc)
	setIfNotEmpty(q, "query.spons", p.QuerySpons)
	setIfNotEmpty(q, "query.lead", p.QueryLead)
	setIfNotEmpty(q, "query.id", p.QueryID)
	setIfNotEmpty(q, "query.patient", p.QueryPatient)

	// List parameters are pipe-delimited per the registry's OpenAPI spec
	setPiped(q, "filter.overallStatus", p.FilterOverallStatus)
	setPiped(q, "filter.ids", p.FilterIDs)
	setPiped(q, "filter.synonyms", p.FilterSynonyms)
	setPiped(q, "fields", p.Fields)
	setPiped(q, "sort", p.Sort)

	setIfNotEmpty(q, "filter.advanced", p.FilterAdvanced)
	setIfNotEmpty(q, "aggFilters", p.AggFilters)

	if p.CountTotal {
		q.Set("countTotal", "true")
	}
	if p.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	setIfNotEmpty(q, "pageToken", p.PageToken)

	return c.get(ctx, "/studies", q)
}

// FetchStudy returns the full record for a single study by NCT number.
func (c *Client) FetchStudy(ctx context.Context, nctID string) (string, error) {
	if nctID == "" {
		return "", fmt.Errorf("nct_id cannot be empty")
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("markupFormat", "markdown")

	return c.get(ctx, "/studies/"+url.PathEscape(nctID), q)
}

// get performs a GET against the registry and returns the body as text.
func (c *Client) get(ctx context.Context, path string, q url.Values) (string, error) {
	requestURL := c.baseURL + path
	if encoded := q.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("registry request", "url", requestURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return string(body), nil
}

func setIfNotEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setPiped(q url.Values, key string, values []string) {
	if len(values) > 0 {
		q.Set(key, strings.Join(values, "|"))
	}
}
