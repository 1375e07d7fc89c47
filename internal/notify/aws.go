package notify

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"fleetbridge/internal/common/config"
	"fleetbridge/internal/common/logger"
)

// AWSNotifier delivers terminal-state events over SES email and, when a topic
// is configured, an SNS publish. Either channel failing is logged and
// swallowed.
type AWSNotifier struct {
	cfg    config.NotifyConfig
	ses    *ses.Client
	sns    *sns.Client
	logger logger.Logger
}

func NewAWSNotifier(ctx context.Context, cfg config.NotifyConfig, log logger.Logger) (*AWSNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSNotifier{
		cfg: cfg,
		ses: ses.NewFromConfig(awsCfg),
		sns: sns.NewFromConfig(awsCfg),
		logger: log.With(map[string]interface{}{
			"component": "notifier",
		}),
	}, nil
}

func (n *AWSNotifier) Notify(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("[fleetbridge] request %s is %s", event.RequestID, event.State)
	body := event.Summary
	if event.Detail != "" {
		body += "\n\n" + event.Detail
	}

	if n.cfg.ToEmail != "" {
		_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
			Source: aws.String(n.cfg.FromEmail),
			Destination: &sestypes.Destination{
				ToAddresses: []string{n.cfg.ToEmail},
			},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
		})
		if err != nil {
			n.logger.Warn("email notification failed", map[string]interface{}{
				"requestId": event.RequestID,
				"error":     err.Error(),
			})
		}
	}

	if n.cfg.SNSTopic != "" {
		_, err := n.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(n.cfg.SNSTopic),
			Subject:  aws.String(subject),
			Message:  aws.String(body),
		})
		if err != nil {
			n.logger.Warn("sns notification failed", map[string]interface{}{
				"requestId": event.RequestID,
				"error":     err.Error(),
			})
		}
	}

	return nil
}
