// Package splitwise posts calculated bill splits to the Splitwise API so
// nobody has to copy the totals over by hand.
package splitwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"splitmybill/internal/split"
)

const splitwiseURL = "https://secure.splitwise.com/api/v3.0"

// Config carries the Splitwise credentials and the participant-to-user-id
// map. Participant names must match the names used during splitting.
type Config struct {
	APIKey  string           `yaml:"api_key"`
	GroupID int64            `yaml:"group_id"`
	Payer   string           `yaml:"payer"`
	Users   map[string]int64 `yaml:"users"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading splitwise config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing splitwise config: %w", err)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("splitwise config is missing api_key")
	}
	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("splitwise config is missing the users map")
	}
	if cfg.Payer == "" {
		return nil, fmt.Errorf("splitwise config is missing the payer")
	}
	if _, ok := cfg.Users[cfg.Payer]; !ok {
		return nil, fmt.Errorf("payer %q has no entry in the users map", cfg.Payer)
	}

	return &cfg, nil
}

// Client posts expenses. The payer fronts the whole cost and every
// participant owes their calculated total share.
type Client struct {
	cfg        *Config
	endpoint   string
	httpClient *http.Client
}

// New creates a client for the public Splitwise API.
func New(cfg *Config) *Client {
	return NewWithEndpoint(cfg, splitwiseURL)
}

// NewWithEndpoint creates a client pointing at a custom API base URL (for
// testing).
func NewWithEndpoint(cfg *Config, endpoint string) *Client {
	return &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateExpense posts one expense covering the whole split and returns the
// created expense id. Every participant must appear in the config's users
// map; a missing mapping fails before anything is sent.
func (c *Client) CreateExpense(ctx context.Context, description string, b *split.BillSplit) (int64, error) {
	totals, err := b.TotalShares()
	if err != nil {
		return 0, err
	}

	if _, ok := c.cfg.Users[c.cfg.Payer]; !ok {
		return 0, fmt.Errorf("payer %q has no entry in the users map", c.cfg.Payer)
	}

	// Splitwise rejects expenses whose owed shares do not sum to the cost,
	// so the cost is the sum of the rounded shares rather than the other
	// way around.
	owed := make(map[string]decimal.Decimal, len(b.Participants))
	cost := decimal.Zero
	for _, person := range b.Participants {
		if _, ok := c.cfg.Users[person]; !ok {
			return 0, fmt.Errorf("participant %q has no entry in the users map", person)
		}
		owed[person] = totals[person].Round(2)
		cost = cost.Add(owed[person])
	}

	body := map[string]any{
		"cost":        cost.StringFixed(2),
		"description": description,
		"group_id":    c.cfg.GroupID,
	}

	users := b.Participants
	if _, isParticipant := owed[c.cfg.Payer]; !isParticipant {
		users = append(append([]string{}, users...), c.cfg.Payer)
	}
	// The create_expense endpoint takes users as flattened
	// users__{index}__{field} keys.
	for i, person := range users {
		paid := decimal.Zero
		if person == c.cfg.Payer {
			paid = cost
		}
		body[fmt.Sprintf("users__%d__user_id", i)] = c.cfg.Users[person]
		body[fmt.Sprintf("users__%d__paid_share", i)] = paid.StringFixed(2)
		body[fmt.Sprintf("users__%d__owed_share", i)] = owed[person].StringFixed(2)
	}

	return c.post(ctx, body)
}

func (c *Client) post(ctx context.Context, body map[string]any) (int64, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/create_expense", bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling splitwise API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("splitwise API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	// Splitwise reports validation failures with a 200 and a populated
	// errors object.
	var parsed struct {
		Expenses []struct {
			ID int64 `json:"id"`
		} `json:"expenses"`
		Errors map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("unmarshaling response: %w", err)
	}

	if msg := flattenErrors(parsed.Errors); msg != "" {
		return 0, fmt.Errorf("creating expense: %s", msg)
	}
	if len(parsed.Expenses) == 0 {
		return 0, fmt.Errorf("splitwise API returned no expense")
	}

	return parsed.Expenses[0].ID, nil
}

func flattenErrors(errs map[string][]string) string {
	if len(errs) == 0 {
		return ""
	}

	keys := make([]string, 0, len(errs))
	for key := range errs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var messages []string
	for _, key := range keys {
		messages = append(messages, strings.Join(errs[key], "; "))
	}
	return strings.Join(messages, "; ")
}
