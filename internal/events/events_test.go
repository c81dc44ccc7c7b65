package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func TestKafkaPublisher_PublishPayment(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	var got PaymentEvent
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &got)
	})

	pub := NewKafkaPublisher(producer, "payment_events", zaptest.NewLogger(t))
	err := pub.PublishPayment(context.Background(), PaymentEvent{
		EventType:     TypePaymentSucceeded,
		IntentID:      5,
		OrderID:       42,
		Status:        "succeeded",
		Amount:        "1000",
		Currency:      "KES",
		ReceiptNumber: "NLJ7RT61SV",
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint(5), got.IntentID)
	assert.Equal(t, "NLJ7RT61SV", got.ReceiptNumber)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	pub := NewKafkaPublisher(producer, "payment_events", zaptest.NewLogger(t))
	err := pub.PublishPayment(context.Background(), PaymentEvent{IntentID: 1})
	assert.ErrorContains(t, err, "broker down")
	require.NoError(t, pub.Close())
}

func TestHeaderCarrierInjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	carrier := make(headerCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	assert.Contains(t, carrier.Keys(), "traceparent")
	assert.Contains(t, carrier.Get("traceparent"), sc.TraceID().String())
}
