// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsClient is the subset of the Secrets Manager API the gateway uses.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretResolver fetches secrets from AWS Secrets Manager and caches them
// for a fixed TTL so database reconnects do not hammer the API.
type SecretResolver struct {
	client SecretsClient
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// NewSecretResolver builds a resolver against the real AWS API in the
// given region.
func NewSecretResolver(ctx context.Context, region string, ttl time.Duration) (*SecretResolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSecretResolverWithClient(secretsmanager.NewFromConfig(awsCfg), ttl), nil
}

// NewSecretResolverWithClient builds a resolver over an injected client.
func NewSecretResolverWithClient(client SecretsClient, ttl time.Duration) *SecretResolver {
	return &SecretResolver{
		client: client,
		ttl:    ttl,
		cache:  make(map[string]cachedSecret),
	}
}

// DatabaseURL fetches the database connection string stored under the
// given secret ARN. The secret may be a plain string or a JSON object
// with a "database_url" key.
func (r *SecretResolver) DatabaseURL(ctx context.Context, secretARN string) (string, error) {
	raw, err := r.fetch(ctx, secretARN)
	if err != nil {
		return "", err
	}

	var obj map[string]string
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		if url, ok := obj["database_url"]; ok && url != "" {
			return url, nil
		}
		return "", fmt.Errorf("secret %s has no database_url key", secretARN)
	}

	return raw, nil
}

func (r *SecretResolver) fetch(ctx context.Context, secretARN string) (string, error) {
	r.mu.Lock()
	if cached, ok := r.cache[secretARN]; ok && time.Since(cached.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return cached.value, nil
	}
	r.mu.Unlock()

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretARN,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretARN)
	}

	r.mu.Lock()
	r.cache[secretARN] = cachedSecret{value: *out.SecretString, fetchedAt: time.Now()}
	r.mu.Unlock()

	return *out.SecretString, nil
}
