package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/searchkit"
	"github.com/letmevibethatforyou/searchkit/ddbcache"
	"github.com/letmevibethatforyou/searchkit/internal/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app := &cli.App{
		Name:  "search-proxy",
		Usage: "Answer search requests from API Gateway through a cached searchkit session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a searchkit YAML settings file",
				EnvVars: []string{"SEARCHKIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "secret-arn",
				Usage:   "ARN of an AWS Secrets Manager secret holding {\"api_key\",\"url\"}",
				EnvVars: []string{"SEARCH_SECRET_ARN"},
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name; reads the secret {env}/search when no ARN is given",
				EnvVars: []string{"ENV", "ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "cache-table",
				Usage:   "DynamoDB table shared as second-level result cache",
				EnvVars: []string{"CACHE_TABLE"},
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

	settings := config.Config{}
	settings.ApplyDefaults()
	if path := c.String("config"); path != "" {
		var err error
		if settings, err = config.Load(path); err != nil {
			return err
		}
	}
	logger := slog.Default()

	transport, err := settings.Transport()
	if err != nil {
		return err
	}
	opts := append(settings.ClientOptions(),
		searchkit.WithTransport(transport),
		searchkit.WithLogger(logger),
	)

	secretArn, env := c.String("secret-arn"), c.String("env")
	if secretArn == "" {
		secretArn = settings.Session.SecretID
	}
	table := c.String("cache-table")
	if table == "" {
		table = settings.Cache.Table
	}

	var fetch searchkit.FetchCredentials
	if secretArn != "" || env != "" || table != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to load AWS config")
		}
		sm := secretsmanager.NewFromConfig(awsCfg)
		switch {
		case secretArn != "":
			slog.InfoContext(ctx, "Using AWS Secrets Manager for credentials", "secret_arn", secretArn)
			fetch = searchkit.AWSCredentials(ctx, sm, secretArn)
		case env != "":
			slog.InfoContext(ctx, "Using AWS Secrets Manager for credentials", "environment", env)
			fetch = searchkit.AWSEnvironmentCredentials(ctx, sm, env)
		}
		if table != "" {
			slog.InfoContext(ctx, "Using DynamoDB result cache", "table", table)
			opts = append(opts, searchkit.WithSecondaryCache(ddbcache.New(
				dynamodb.NewFromConfig(awsCfg), table,
				ddbcache.WithTTL(settings.Client.TTL),
				ddbcache.WithLogger(logger),
			)))
		}
	}
	if fetch == nil {
		if settings.Session.APIKey != "" || settings.Session.URL != "" {
			fetch = searchkit.StaticCredentials(settings.Session.APIKey, settings.Session.URL)
		} else {
			slog.InfoContext(ctx, "Using environment variables for credentials")
			fetch = searchkit.EnvCredentials("", "")
		}
	}

	provider := searchkit.NewProviderFromCredentials(fetch, opts...)
	defer provider.Close()
	if err := provider.Err(); err != nil {
		// Requests are still answered, with 503, so the misconfiguration is visible.
		slog.ErrorContext(ctx, "Search session is not configured", "error", err)
	}

	handler := NewHandler(provider, logger)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		slog.InfoContext(ctx, "Running in Lambda environment")
		lambda.Start(handler.HandleRequest)
	} else {
		slog.InfoContext(ctx, "Function cannot run outside of AWS Lambda environment")
	}

	return nil
}
