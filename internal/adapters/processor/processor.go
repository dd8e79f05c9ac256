// Package processor adapts an HTTP image-generation provider to the engine's
// downstream-processor contract.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
)

// Expressions selects fields out of provider responses. Providers disagree on
// response shape; JMESPath keeps the adapter generic without per-provider
// structs.
type Expressions struct {
	JobID    string // job acceptance response -> job id
	Images   string // generation response -> list of image objects
	Path     string // image object -> file path
	Seed     string // image object -> seed
	Status   string // image object -> qc status hint
	Metadata string // image object -> metadata document
}

// DefaultExpressions matches the reference provider API.
func DefaultExpressions() Expressions {
	return Expressions{
		JobID:    "job_id",
		Images:   "images",
		Path:     "path",
		Seed:     "seed",
		Status:   "status",
		Metadata: "metadata",
	}
}

// Validate checks that every expression compiles.
func (e Expressions) Validate() error {
	for _, expr := range []string{e.JobID, e.Images, e.Path, e.Seed, e.Status, e.Metadata} {
		if _, err := jmespath.Compile(expr); err != nil {
			return fmt.Errorf("compile expression %q: %w", expr, err)
		}
	}
	return nil
}

// Options groups dependencies for Client.
type Options struct {
	BaseURL     string        // Required: provider base URL, no trailing slash
	HTTPClient  *http.Client  // Optional: overrides Timeout when set
	Timeout     time.Duration // Optional: per-request timeout, defaults to 10 minutes
	Expressions *Expressions  // Optional: defaults to DefaultExpressions
	Logger      *slog.Logger  // Optional: structured logger
	Buffer      int           // Optional: result channel buffer, defaults to 16
}

// Client drives an HTTP provider: it registers a job, requests images prompt
// by prompt, and streams each result back to the orchestrator. Credentials
// travel only in the Authorization header, never in request bodies or logs.
type Client struct {
	baseURL string
	http    *http.Client
	exprs   Expressions
	logger  *slog.Logger
	buffer  int
}

var _ core.Processor = (*Client)(nil)

// NewClient constructs a new provider Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}

	exprs := DefaultExpressions()
	if opts.Expressions != nil {
		exprs = *opts.Expressions
	}
	if err := exprs.Validate(); err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 16
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "processor")
	}

	return &Client{
		baseURL: opts.BaseURL,
		http:    httpClient,
		exprs:   exprs,
		logger:  logger,
		buffer:  buffer,
	}, nil
}

type registerRequest struct {
	ExecutionID  string          `json:"execution_id"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model,omitempty"`
	OutputFormat string          `json:"output_format,omitempty"`
	OutputDir    string          `json:"output_dir,omitempty"`
	TempDir      string          `json:"temp_dir,omitempty"`
	Processing   json.RawMessage `json:"processing,omitempty"`
	VisionQC     bool            `json:"vision_qc,omitempty"`
	Metadata     bool            `json:"generate_metadata,omitempty"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count"`
}

// Process registers the run with the provider and streams results. The
// returned error covers registration only; per-image failures arrive as
// stream entries with Err set.
func (c *Client) Process(ctx context.Context, opts core.ProcessorRunOptions) (*core.ProcessHandle, error) {
	settings := opts.Settings
	secret := settings.Credentials[settings.Provider]
	if secret == "" {
		return nil, fmt.Errorf("no credential resolved for provider %q", settings.Provider)
	}

	body := registerRequest{
		ExecutionID:  opts.ExecutionID,
		Provider:     settings.Provider,
		Model:        settings.Model,
		OutputFormat: settings.OutputFormat,
		OutputDir:    settings.OutputDir,
		TempDir:      settings.TempDir,
		Processing:   settings.Processing,
		VisionQC:     settings.VisionQC,
		Metadata:     settings.GenerateMetadata,
	}
	doc, err := c.post(ctx, "/v1/jobs", secret, body)
	if err != nil {
		return nil, fmt.Errorf("register job: %w", err)
	}

	jobID, _ := c.searchString(c.exprs.JobID, doc)
	if jobID == "" {
		return nil, errors.New("provider did not return a job id")
	}

	results := make(chan core.ProcessorResult, c.buffer)
	go c.generate(ctx, jobID, secret, settings, results)

	return &core.ProcessHandle{JobID: jobID, Results: results}, nil
}

// generate requests images prompt by prompt and forwards each result. The
// channel is closed when all prompts are done or the context is cancelled.
func (c *Client) generate(ctx context.Context, jobID, secret string, settings model.ConfigurationSettings, results chan<- core.ProcessorResult) {
	defer close(results)

	count := settings.ImageCount
	if count <= 0 {
		count = 1
	}

	for _, prompt := range settings.Prompts {
		if ctx.Err() != nil {
			return
		}

		doc, err := c.post(ctx, "/v1/jobs/"+jobID+"/images", secret, generateRequest{
			Prompt: prompt,
			Count:  count,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.logger != nil {
				c.logger.WarnContext(ctx, "generation request failed", "job_id", jobID, "err", err)
			}
			results <- core.ProcessorResult{Prompt: prompt, Err: err}
			continue
		}

		for _, res := range c.extractImages(prompt, doc) {
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Retry asks the provider to re-process one failed image with the supplied
// normalized settings, falling back to the settings recorded on the image.
func (c *Client) Retry(ctx context.Context, opts core.RetryRunOptions) (*core.RetryResult, error) {
	if opts.Image == nil {
		return nil, errors.New("image is required")
	}
	if opts.Secret == "" {
		return nil, fmt.Errorf("no credential resolved for provider %q", opts.Provider)
	}

	applied := opts.Settings
	if applied == nil {
		applied = opts.Image.ProcessingSettings
	}

	payload := map[string]any{
		"image_id":  opts.Image.ID,
		"temp_path": opts.Image.TempPath,
		"prompt":    opts.Image.Prompt,
	}
	if opts.Provider != "" {
		payload["provider"] = opts.Provider
	}
	if applied != nil {
		payload["processing"] = json.RawMessage(applied)
	}

	doc, err := c.post(ctx, "/v1/images/retry", opts.Secret, payload)
	if err != nil {
		return &core.RetryResult{Success: false, Err: err}, nil
	}

	result := &core.RetryResult{AppliedSettings: applied}
	if m, ok := doc.(map[string]any); ok {
		if success, okb := m["success"].(bool); okb {
			result.Success = success
		}
		if fp, oks := m["final_path"].(string); oks && fp != "" {
			result.FinalPath = &fp
		}
	}
	if !result.Success {
		result.Err = errors.New("provider reported retry failure")
	}
	return result, nil
}

// extractImages pulls image results out of a provider response document.
func (c *Client) extractImages(prompt string, doc any) []core.ProcessorResult {
	raw, err := jmespath.Search(c.exprs.Images, doc)
	if err != nil {
		return []core.ProcessorResult{{Prompt: prompt, Err: fmt.Errorf("extract images: %w", err)}}
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return []core.ProcessorResult{{Prompt: prompt, Err: errors.New("provider returned no images")}}
	}

	out := make([]core.ProcessorResult, 0, len(list))
	for _, item := range list {
		res := core.ProcessorResult{Prompt: prompt}

		if path, okp := c.searchString(c.exprs.Path, item); okp && path != "" {
			res.TempPath = &path
		} else {
			res.Err = errors.New("image result missing path")
		}
		if seed, oks := c.searchNumber(c.exprs.Seed, item); oks {
			s := int64(seed)
			res.Seed = &s
		}
		if status, okt := c.searchString(c.exprs.Status, item); okt {
			var qc model.QCStatus
			if uerr := qc.UnmarshalText([]byte(status)); uerr == nil {
				res.QCStatus = qc
			}
		}
		if meta, merr := jmespath.Search(c.exprs.Metadata, item); merr == nil && meta != nil {
			if b, encErr := json.Marshal(meta); encErr == nil {
				res.Metadata = b
			}
		}

		out = append(out, res)
	}
	return out
}

// post sends a JSON request and decodes the JSON response into a generic
// document for JMESPath extraction. The secret, when present, is attached as
// a bearer token.
func (c *Client) post(ctx context.Context, path, secret string, body any) (any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider request %s: unexpected status %d", path, resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return doc, nil
}

func (c *Client) searchString(expr string, doc any) (string, bool) {
	v, err := jmespath.Search(expr, doc)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Client) searchNumber(expr string, doc any) (float64, bool) {
	v, err := jmespath.Search(expr, doc)
	if err != nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, ferr := n.Float64()
		return f, ferr == nil
	default:
		return 0, false
	}
}
