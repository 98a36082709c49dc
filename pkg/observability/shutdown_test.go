package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsFunctions(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, &http.Server{}, time.Second)

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestShutdownCollectsErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	cause := errors.New("flush failed")
	sm.RegisterShutdownFunc(func(context.Context) error { return cause })
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestShutdownTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, 20*time.Millisecond)

	block := make(chan struct{})
	defer close(block)
	sm.RegisterShutdownFunc(func(context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sm.WaitForShutdown(ctx))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "handler exploded", hook.LastEntry().Data["panic"])
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	func() {
		defer RecoverPanic(logger, "worker")
		panic("worker exploded")
	}()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "worker", hook.LastEntry().Data["context"])
}
