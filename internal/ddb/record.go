// Package ddb holds the DynamoDB item layout of cached search results.
package ddb

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// Attribute names of a cache item.
const (
	AttrPK       = "pk"
	AttrStoredAt = "stored_at"
)

// Record is one cached result projection.
type Record struct {
	Fingerprint string `dynamodbav:"pk"`         // partition key
	Projection  string `dynamodbav:"projection"` // JSON of the projection
	StoredAt    int64  `dynamodbav:"stored_at"`  // unix milliseconds
	ExpiresAt   int64  `dynamodbav:"expires_at"` // unix seconds, the table's TTL attribute
}

// NewRecord builds the record for a projection stored at storedAt that
// expires ttl later.
func NewRecord(fingerprint string, projection []byte, storedAt time.Time, ttl time.Duration) Record {
	return Record{
		Fingerprint: fingerprint,
		Projection:  string(projection),
		StoredAt:    storedAt.UnixMilli(),
		ExpiresAt:   storedAt.Add(ttl).Unix(),
	}
}

// StoredTime returns StoredAt as a time.
func (r Record) StoredTime() time.Time {
	return time.UnixMilli(r.StoredAt)
}

// Expired reports whether DynamoDB may already have dropped the item. TTL
// deletion is lazy, so readers must check this themselves.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

// MarshalRecord converts a Record into a DynamoDB item.
func MarshalRecord(r Record) (map[string]types.AttributeValue, error) {
	if r.Fingerprint == "" {
		return nil, errors.New("ddb: record has no fingerprint")
	}
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, errors.Wrap(err, "ddb: marshal record")
	}
	return item, nil
}

// UnmarshalRecord converts a DynamoDB item into a Record.
func UnmarshalRecord(item map[string]types.AttributeValue) (Record, error) {
	var record Record
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return Record{}, errors.Wrap(err, "ddb: unmarshal record")
	}
	if record.Fingerprint == "" {
		return Record{}, errors.New("ddb: item has no pk")
	}
	return record, nil
}

// Key returns the primary key of the item for fingerprint.
func Key(fingerprint string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: fingerprint},
	}
}

// Number renders n as a DynamoDB number attribute.
func Number(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
