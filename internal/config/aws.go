// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const secretsManagerARNPrefix = "arn:aws:secretsmanager:"

// LoadAWS builds an SDK config. Static keys are used when both are set,
// otherwise the default credential chain (env, profile, instance role).
func (a AWSConfig) LoadAWS(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(a.Region),
	}
	if a.AccessKeyID != "" && a.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// SecretGetter is the subset of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveSecrets replaces secret values given as Secrets Manager ARNs with
// the stored secret string. Plain values are left alone.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	if !needsSecretsManager(c) {
		return nil
	}
	awsCfg, err := c.AWS.LoadAWS(ctx)
	if err != nil {
		return err
	}
	return c.resolveSecretsWith(ctx, secretsmanager.NewFromConfig(awsCfg))
}

func needsSecretsManager(c *Config) bool {
	for _, v := range c.secretFields() {
		if strings.HasPrefix(*v, secretsManagerARNPrefix) {
			return true
		}
	}
	return false
}

func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"cron.secret":          &c.Cron.Secret,
		"auth.jwt_secret":      &c.Auth.JWTSecret,
		"notify.smtp_password": &c.Notify.SMTPPassword,
	}
}

func (c *Config) resolveSecretsWith(ctx context.Context, client SecretGetter) error {
	for name, field := range c.secretFields() {
		if !strings.HasPrefix(*field, secretsManagerARNPrefix) {
			continue
		}
		out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(*field),
		})
		if err != nil {
			return fmt.Errorf("resolve %s from secrets manager: %w", name, err)
		}
		if out.SecretString == nil {
			return fmt.Errorf("resolve %s: secret has no string value", name)
		}
		*field = *out.SecretString
	}
	return nil
}
