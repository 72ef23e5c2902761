package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestPublishEncodesJSONPerTopic(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	id, err := pub.Publish(context.Background(), "deliveries", map[string]string{"job_id": "j-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = pub.Publish(context.Background(), "invocations", []int{1, 2})
	require.NoError(t, err)

	require.Len(t, pub.Envelopes(), 2)
	got := pub.Topic("deliveries")
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].ID)
	require.JSONEq(t, `{"job_id":"j-1"}`, string(got[0].Data))

	var decoded map[string]string
	require.NoError(t, got[0].Decode(&decoded))
	require.Equal(t, "j-1", decoded["job_id"])

	envs := pub.Envelopes()
	envs[0].Topic = "changed"
	require.Equal(t, "deliveries", pub.Envelopes()[0].Topic)
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	_, err := pub.Publish(context.Background(), "deliveries", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Envelopes())
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "deliveries", "x")
	require.EqualError(t, err, "broker down")
	require.Empty(t, pub.Envelopes())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "deliveries", "x")
	require.NoError(t, err)
	require.Len(t, pub.Envelopes(), 1)
}

func TestPublishCarriesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "deliver")
	defer span.End()

	pub := New(nil)
	_, err := pub.Publish(ctx, "deliveries", "x")
	require.NoError(t, err)
	require.Contains(t, pub.Envelopes()[0].Attributes, "traceparent")
}
