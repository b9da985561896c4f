package searchkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
)

// SecretsManagerClient defines the interface for AWS Secrets Manager operations.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSCredentials returns a FetchCredentials function that reads search
// credentials from AWS Secrets Manager. secretID may be a name or an ARN; the
// secret must hold JSON with api_key and url fields.
func AWSCredentials(ctx context.Context, client SecretsManagerClient, secretID string) FetchCredentials {
	return func() (Credentials, error) {
		input := &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(secretID),
		}

		result, err := client.GetSecretValue(ctx, input)
		if err != nil {
			return Credentials{}, errors.Wrapf(err, "failed to get secret %s from AWS Secrets Manager", secretID)
		}

		if result.SecretString == nil {
			return Credentials{}, errors.Newf("secret %s has no string value", secretID)
		}

		var creds Credentials
		if err := json.Unmarshal([]byte(aws.ToString(result.SecretString)), &creds); err != nil {
			return Credentials{}, errors.Wrapf(err, "failed to unmarshal secret JSON from %s", secretID)
		}

		return creds, nil
	}
}

// AWSEnvironmentCredentials reads the secret stored at "{environment}/search".
func AWSEnvironmentCredentials(ctx context.Context, client SecretsManagerClient, env string) FetchCredentials {
	return AWSCredentials(ctx, client, fmt.Sprintf("%s/search", env))
}
