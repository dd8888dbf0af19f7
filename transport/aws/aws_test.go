package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/evalflow/transport"
	"github.com/drblury/evalflow/transport/transporttest"
)

func stubFactories(t *testing.T) {
	t.Helper()
	origLoader, origResolver, origPub, origSub := DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory = origLoader, origResolver, origPub, origSub
	})

	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "eu-west-1"}, nil
	}
	PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return &transporttest.PubSub{}, nil
	}
	SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return &transporttest.PubSub{}, nil
	}
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.False(t, transport.CapabilitiesOf(TransportName).Fits(300<<10))
}

func TestBuildAgainstLocalStack(t *testing.T) {
	stubFactories(t)
	var account, region string
	TopicResolverFactory = func(accountID, r string) (*sns.GenerateArnTopicResolver, error) {
		account, region = accountID, r
		return sns.NewGenerateArnTopicResolver(accountID, r)
	}
	PublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Len(t, cfg.OptFns, 1)
		assert.Equal(t, "eu-central-1", cfg.AWSConfig.Region)
		return &transporttest.PubSub{}, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Len(t, cfg.OptFns, 1)
		assert.Len(t, sqsCfg.OptFns, 1)
		name, err := cfg.GenerateSqsQueueName(context.Background(), "arn:aws:sns:eu-central-1:000000000000:greet")
		require.NoError(t, err)
		assert.Equal(t, "greet", name)
		return &transporttest.PubSub{}, nil
	}

	tr, err := Build(context.Background(), transporttest.Config{
		AWSRegion:          "eu-central-1",
		AWSAccessKeyID:     "test",
		AWSSecretAccessKey: "test",
		AWSEndpoint:        "http://localhost:4566",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.Equal(t, localstackAccountID, account)
	assert.Equal(t, "eu-central-1", region)
}

func TestBuildFailures(t *testing.T) {
	stubFactories(t)

	_, err := Build(context.Background(), transporttest.Config{AWSEndpoint: "localhost"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "absolute URL")

	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}
	_, err = Build(context.Background(), transporttest.Config{AWSRegion: "eu-west-1"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "no credentials")

	stubFactories(t)
	SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Build(context.Background(), transporttest.Config{AWSRegion: "eu-west-1", AWSAccountID: "123456789012"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
}

func TestAccountFor(t *testing.T) {
	assert.Equal(t, "123456789012", accountFor(`"123456789012"`, false))
	assert.Equal(t, "", accountFor("", false))
	assert.Equal(t, localstackAccountID, accountFor("", true))
	assert.Equal(t, localstackAccountID, accountFor("42", true))
	assert.Equal(t, "123456789012", accountFor("123456789012", true))
}

func TestStaticCredentials(t *testing.T) {
	creds, err := staticCredentials("id", "secret").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}
