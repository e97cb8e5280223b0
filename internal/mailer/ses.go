package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/phishing-trainer/internal/config"
)

// SESMailer sends through the AWS SES v2 API.
type SESMailer struct {
	client *sesv2.Client
	from   string
}

// NewSESMailer creates a new SES mail transport.
func NewSESMailer(ctx context.Context, cfg appconfig.SESConfig, from string) (*SESMailer, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"", // session token (empty for static creds)
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESMailer{
		client: sesv2.NewFromConfig(awsCfg),
		from:   from,
	}, nil
}

// Send delivers one message via SES.
func (m *SESMailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody)},
					Text: &types.Content{Data: aws.String(textBody)},
				},
			},
		},
	}

	if _, err := m.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES send to %s: %w", to, err)
	}
	return nil
}
