// Package sender delivers OTP codes over SMS (AWS SNS) or email (SMTP).
package sender

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SMSAPI is the subset of the SNS client used here.
type SMSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender publishes codes directly to E.164 phone numbers.
type SNSSender struct {
	client   SMSAPI
	senderID string
}

func NewSNSSender(cfg aws.Config, senderID string) *SNSSender {
	return newSNSSenderWithClient(sns.NewFromConfig(cfg), senderID)
}

func newSNSSenderWithClient(client SMSAPI, senderID string) *SNSSender {
	return &SNSSender{client: client, senderID: senderID}
}

func (s *SNSSender) Send(ctx context.Context, phone, code string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message(code)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publish sms: %w", err)
	}
	return nil
}

func message(code string) string {
	return fmt.Sprintf("Your verification code is %s. It expires in 5 minutes.", code)
}
