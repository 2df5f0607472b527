//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	platformkafka "tipline/internal/platform/kafka"
	audit "tipline/pkg/platform/audit"
	auditkafka "tipline/pkg/platform/audit/store/kafka"
	"tipline/pkg/testutil"
	"tipline/pkg/testutil/containers"
)

func TestKafkaAuditMirror(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redpanda := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "tipline.audit.test"
	producer := redpanda.NewClient(t)
	defer producer.Close()

	testutil.Given(t, "an existing audit topic", func(t *testing.T) {
		require.NoError(t, platformkafka.EnsureTopic(ctx, producer, topic))
		require.NoError(t, platformkafka.EnsureTopic(ctx, producer, topic), "second create is a no-op")

		testutil.When(t, "a lockout event is appended", func(t *testing.T) {
			store := auditkafka.New(producer, topic)
			require.NoError(t, store.Append(ctx, audit.Event{
				ID:            "evt-1",
				Timestamp:     time.Now(),
				Action:        string(audit.EventOTPLockout),
				Outcome:       audit.OutcomeFailure,
				ActorRole:     "ADMIN",
				CorrelationID: "corr-hash",
				Detail:        map[string]string{"attempts": "3"},
			}))

			testutil.Then(t, "a consumer sees it keyed by correlation", func(t *testing.T) {
				consumer := redpanda.NewClient(t,
					kgo.ConsumeTopics(topic),
					kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
				)
				defer consumer.Close()

				fetches := consumer.PollFetches(ctx)
				require.Empty(t, fetches.Errors())
				records := fetches.Records()
				require.Len(t, records, 1)

				record := records[0]
				assert.Equal(t, "corr-hash", string(record.Key))
				require.Len(t, record.Headers, 1)
				assert.Equal(t, "category", record.Headers[0].Key)
				assert.Equal(t, string(audit.CategorySecurity), string(record.Headers[0].Value))

				var body map[string]any
				require.NoError(t, json.Unmarshal(record.Value, &body))
				assert.Equal(t, "otp_lockout", body["action"])
				assert.Equal(t, "failure", body["outcome"])
				assert.NotContains(t, body, "actor_id")
			})
		})
	})
}
