package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/searchkit"
	"github.com/letmevibethatforyou/searchkit/internal/config"
)

const (
	defaultLimit   = 10
	defaultTimeout = 5 * time.Second
)

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	app := &cli.App{
		Name:  "query",
		Usage: "Run one search query through a searchkit session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a searchkit YAML settings file",
				EnvVars: []string{"SEARCHKIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Search service API key",
				EnvVars: []string{searchkit.EnvAPIKey},
			},
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Search service base URL",
				EnvVars: []string{searchkit.EnvURL},
			},
			&cli.StringFlag{
				Name:    "secret-arn",
				Usage:   "ARN of an AWS Secrets Manager secret holding {\"api_key\",\"url\"}",
				EnvVars: []string{"SEARCH_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Query string to search for; positional arg is a fallback",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of results to return",
				Value:   defaultLimit,
			},
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "Cursor of the page to fetch, as printed by a previous query",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for the search request",
				Value: defaultTimeout,
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "Filter as field=value, field!=value, field>value, field>=value, field<value or field<=value; repeatable",
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	ctx := c.Context

	query := strings.TrimSpace(c.String("query"))
	if query == "" && c.NArg() > 0 {
		query = strings.TrimSpace(c.Args().First())
	}

	limit := c.Int("limit")
	if limit <= 0 {
		slog.WarnContext(ctx, "limit must be positive; falling back to default", "limit", limit, "default", defaultLimit)
		limit = defaultLimit
	}

	timeout := c.Duration("timeout")
	if timeout <= 0 {
		slog.WarnContext(ctx, "timeout must be positive; using default", "timeout", timeout, "default", defaultTimeout)
		timeout = defaultTimeout
	}

	filterOptions, err := buildFilterOptions(c.StringSlice("filter"))
	if err != nil {
		return errors.Wrap(err, "invalid filter")
	}

	settings := config.Config{}
	settings.ApplyDefaults()
	if path := c.String("config"); path != "" {
		if settings, err = config.Load(path); err != nil {
			return err
		}
	}
	transport, err := settings.Transport()
	if err != nil {
		return err
	}

	fetch, err := credentials(ctx, c, settings.Session)
	if err != nil {
		return err
	}

	provider := searchkit.NewProviderFromCredentials(fetch,
		searchkit.WithTransport(transport),
		searchkit.WithLogger(slog.Default()),
	)
	defer provider.Close()
	if err := provider.Err(); err != nil {
		return errors.Wrap(err, "session is not configured")
	}

	opts := []searchkit.SearchOption{searchkit.WithLimit(limit)}
	if cursor := c.String("cursor"); cursor != "" {
		opts = append(opts, searchkit.WithCursor(cursor))
	}
	opts = append(opts, filterOptions...)
	params := searchkit.NewQueryParams(query, opts...)

	slog.InfoContext(ctx, "executing query",
		"session", provider.Config().String(),
		"backend", settings.Backend.Kind,
		"query", query,
		"limit", limit,
		"filter_count", len(filterOptions),
		"fingerprint", searchkit.NewFingerprint(params).Short(),
		"timeout", timeout,
	)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := provider.Client().Search(ctx, params)
	if err != nil {
		return errors.Wrapf(err, "search failed (%s)", searchkit.CodeOf(err))
	}

	return printResults(results)
}

// credentials picks the credential source: a Secrets Manager secret, then
// flags and environment, then the settings file.
func credentials(ctx context.Context, c *cli.Context, session config.SessionConfig) (searchkit.FetchCredentials, error) {
	secretID := strings.TrimSpace(c.String("secret-arn"))
	if secretID == "" {
		secretID = session.SecretID
	}
	if secretID != "" {
		slog.InfoContext(ctx, "using AWS Secrets Manager for search credentials", "secret_arn", secretID)
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load AWS config")
		}
		return searchkit.AWSCredentials(ctx, secretsmanager.NewFromConfig(cfg), secretID), nil
	}

	apiKey, url := c.String("api-key"), c.String("url")
	if apiKey == "" {
		apiKey = session.APIKey
	}
	if url == "" {
		url = session.URL
	}
	return searchkit.StaticCredentials(apiKey, url), nil
}

func printResults(res searchkit.ResultProjection) error {
	payload := struct {
		Total   int64                  `json:"total"`
		Cursor  string                 `json:"cursor,omitempty"`
		HasMore bool                   `json:"has_more"`
		Items   []searchkit.ResultItem `json:"items"`
	}{
		Total:   res.Total,
		Cursor:  res.Cursor,
		HasMore: res.HasMore(),
		Items:   res.Items,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal results")
	}

	fmt.Println(string(data))
	return nil
}
