package mempool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rabia-go/rabia/statemachine"
)

func TestPromisesResolveDeliversResult(t *testing.T) {
	p := NewPromises(0)
	pr := p.Register("corr-1")

	want := []statemachine.Result{{Output: []byte("ok")}}
	p.Resolve("corr-1", want, nil)

	got, err := pr.Wait()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPromisesResolveUnknownCorrelationIsNoop(t *testing.T) {
	p := NewPromises(0)
	require.NotPanics(t, func() {
		p.Resolve("missing", nil, nil)
	})
}

func TestPromisesFailAll(t *testing.T) {
	p := NewPromises(0)
	pr := p.Register("corr-1")

	p.FailAll(errors.New("stopped"))

	_, err := pr.Wait()
	require.EqualError(t, err, "stopped")
}

func TestPromisesRegisterIsIdempotentForSameCorrelation(t *testing.T) {
	p := NewPromises(0)
	a := p.Register("corr-1")
	b := p.Register("corr-1")
	require.Same(t, a, b)
}
