// Package ddbcache implements searchkit.SecondaryCache on a DynamoDB table so
// that result projections are shared between processes, e.g. warm Lambda
// containers behind the same proxy.
//
// The table needs a string partition key "pk". Enabling DynamoDB TTL on
// "expires_at" lets the table drop stale items on its own.
package ddbcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/searchkit"
	"github.com/letmevibethatforyou/searchkit/clock"
	"github.com/letmevibethatforyou/searchkit/internal/ddb"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store is a DynamoDB-backed searchkit.SecondaryCache.
type Store struct {
	client API
	table  string
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

var _ searchkit.SecondaryCache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long items live in the table. It should match the
// query client's TTL; the client ignores older entries anyway.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithClock sets the clock used to compute expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger for skipped or corrupt items.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithTracerProvider sets the tracer provider for DynamoDB spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		s.tracer = tp.Tracer("searchkit-ddbcache")
	}
}

// New returns a store on table.
func New(client API, table string, opts ...Option) *Store {
	s := &Store{
		client: client,
		table:  table,
		ttl:    searchkit.DefaultTTL,
		clock:  clock.System(),
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("searchkit-ddbcache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements searchkit.SecondaryCache. Expired and undecodable items
// are reported as absent.
func (s *Store) Get(ctx context.Context, fp searchkit.Fingerprint) (searchkit.ResultProjection, time.Time, bool, error) {
	ctx, span := s.startSpan(ctx, "ddbcache.get", fp)
	defer span.End()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       ddb.Key(string(fp)),
	})
	if err != nil {
		return searchkit.ResultProjection{}, time.Time{}, false, s.fail(span, errors.Wrapf(err, "ddbcache: get %s", fp.Short()))
	}
	if len(out.Item) == 0 {
		span.SetAttributes(attribute.Bool("ddbcache.hit", false))
		return searchkit.ResultProjection{}, time.Time{}, false, nil
	}

	record, err := ddb.UnmarshalRecord(out.Item)
	if err != nil {
		s.logger.Warn("ignoring corrupt cache item", "fingerprint", fp.Short(), "error", err)
		return searchkit.ResultProjection{}, time.Time{}, false, nil
	}
	if record.Expired(s.clock.Now()) {
		span.SetAttributes(attribute.Bool("ddbcache.hit", false))
		return searchkit.ResultProjection{}, time.Time{}, false, nil
	}

	var projection searchkit.ResultProjection
	if err := json.Unmarshal([]byte(record.Projection), &projection); err != nil {
		s.logger.Warn("ignoring undecodable cache item", "fingerprint", fp.Short(), "error", err)
		return searchkit.ResultProjection{}, time.Time{}, false, nil
	}

	span.SetAttributes(attribute.Bool("ddbcache.hit", true))
	return projection, record.StoredTime(), true, nil
}

// Put implements searchkit.SecondaryCache. An item stored later by another
// process is never overwritten with an older one.
func (s *Store) Put(ctx context.Context, fp searchkit.Fingerprint, projection searchkit.ResultProjection, storedAt time.Time) error {
	ctx, span := s.startSpan(ctx, "ddbcache.put", fp)
	defer span.End()

	body, err := json.Marshal(projection)
	if err != nil {
		return s.fail(span, errors.Wrap(err, "ddbcache: marshal projection"))
	}
	record := ddb.NewRecord(string(fp), body, storedAt, s.ttl)
	item, err := ddb.MarshalRecord(record)
	if err != nil {
		return s.fail(span, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk) OR #stored < :stored"),
		ExpressionAttributeNames: map[string]string{
			"#pk":     ddb.AttrPK,
			"#stored": ddb.AttrStoredAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stored": ddb.Number(record.StoredAt),
		},
	})
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		span.SetAttributes(attribute.Bool("ddbcache.superseded", true))
		return nil
	}
	if err != nil {
		return s.fail(span, errors.Wrapf(err, "ddbcache: put %s", fp.Short()))
	}
	return nil
}

// Delete implements searchkit.SecondaryCache.
func (s *Store) Delete(ctx context.Context, fp searchkit.Fingerprint) error {
	ctx, span := s.startSpan(ctx, "ddbcache.delete", fp)
	defer span.End()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       ddb.Key(string(fp)),
	})
	if err != nil {
		return s.fail(span, errors.Wrapf(err, "ddbcache: delete %s", fp.Short()))
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name string, fp searchkit.Fingerprint) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "dynamodb"),
			attribute.String("aws.dynamodb.table_names", s.table),
			attribute.String("searchkit.fingerprint", fp.Short()),
		),
	)
}

func (s *Store) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
