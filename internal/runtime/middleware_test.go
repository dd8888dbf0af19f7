package runtime

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	msgexporter "github.com/drblury/evalflow/internal/runtime/exporter/message"
	"github.com/drblury/evalflow/transport/transporttest"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	mw := CorrelationIDMiddleware().Middleware
	var seen string
	handler := mw(func(msg *message.Message) ([]*message.Message, error) {
		seen = msg.Metadata.Get(msgexporter.MetadataCorrelationID)
		return nil, nil
	})

	_, err := handler(message.NewMessage("1", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, seen)

	kept := message.NewMessage("2", nil)
	kept.Metadata.Set(msgexporter.MetadataCorrelationID, "existing")
	_, err = handler(kept)
	require.NoError(t, err)
	assert.Equal(t, "existing", seen)
}

func TestRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"bad input":     {errspkg.New(errspkg.KindBadInput, "x"), false},
		"not found":     {errspkg.New(errspkg.KindNotFound, "x"), false},
		"forbidden":     {errspkg.New(errspkg.KindForbidden, "x"), false},
		"server error":  {errspkg.New(errspkg.KindServerError, "x"), true},
		"not available": {errspkg.New(errspkg.KindNotAvailable, "x"), true},
		"plain error":   {assert.AnError, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestRetryMiddlewareConfigDefaults(t *testing.T) {
	cfg := RetryMiddlewareConfig{}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 16*time.Second, cfg.MaxInterval)
	assert.NotNil(t, cfg.RetryIf)

	custom := RetryMiddlewareConfig{MaxRetries: 2, InitialInterval: time.Millisecond}.withDefaults()
	assert.Equal(t, 2, custom.MaxRetries)
	assert.Equal(t, time.Millisecond, custom.InitialInterval)
}

func TestRetryMiddlewareSkipsPermanentFailures(t *testing.T) {
	mw := retryMiddleware(RetryMiddlewareConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, newTestLogger())

	attempts := 0
	permanent := mw(func(*message.Message) ([]*message.Message, error) {
		attempts++
		return nil, errspkg.New(errspkg.KindBadInput, "Malformed.")
	})
	_, err := permanent(message.NewMessage("1", nil))
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)

	attempts = 0
	transient := mw(func(*message.Message) ([]*message.Message, error) {
		attempts++
		if attempts < 3 {
			return nil, errspkg.New(errspkg.KindNotAvailable, "Later.")
		}
		return nil, nil
	})
	_, err = transient(message.NewMessage("2", nil))
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPoisonQueueMiddleware(t *testing.T) {
	ps := &transporttest.PubSub{}

	svc := newTestService(t, newTestConfig(), ServiceDependencies{TransportFactory: fakeTransportFactory(ps)})
	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	assert.Nil(t, mw)

	conf := newTestConfig()
	conf.PoisonQueue = "poison"
	svc = newTestService(t, conf, ServiceDependencies{TransportFactory: fakeTransportFactory(ps)})
	mw, err = PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	require.NotNil(t, mw)

	handler := mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errspkg.New(errspkg.KindBadInput, "Malformed.")
	})
	_, err = handler(message.NewMessage("1", []byte("{")))
	require.NoError(t, err)
	require.Len(t, ps.Published["poison"], 1)
	assert.Equal(t, "{", string(ps.Published["poison"][0].Payload))

	retried := mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errspkg.New(errspkg.KindNotAvailable, "Later.")
	})
	_, err = retried(message.NewMessage("2", nil))
	assert.Error(t, err)
	assert.Len(t, ps.Published["poison"], 1)
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	svc := newTestService(t, newTestConfig(), ServiceDependencies{})

	assert.Error(t, svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}))
	assert.ErrorIs(t, svc.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, assert.AnError },
	}), assert.AnError)
	assert.NoError(t, svc.RegisterMiddleware(MiddlewareRegistration{
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, nil },
	}))
	assert.NoError(t, svc.RegisterMiddleware(RecovererMiddleware()))

	assert.Error(t, (&Service{}).RegisterMiddleware(RecovererMiddleware()))
}

func TestDefaultMiddlewaresRegister(t *testing.T) {
	conf := newTestConfig()
	conf.MessageTimeout = time.Second
	conf.PoisonQueue = "poison"

	assert.NotPanics(t, func() {
		NewService(conf, newTestLogger(), t.Context(), ServiceDependencies{
			TransportFactory: fakeTransportFactory(&transporttest.PubSub{}),
		})
	})

	names := make([]string, 0)
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"correlation_id", "log_messages", "tracer", "metrics", "timeout", "retry", "poison_queue", "recoverer"}, names)
}
