package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Klingon-tech/nodereg/internal/rpcclient"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindUnknown},
		{"transport", &rpcclient.TransportError{Endpoint: "x", Method: "eth_call", Err: errors.New("refused")}, KindTransport},
		{"protocol", &rpcclient.ProtocolError{Method: "eth_call", Reason: "not json"}, KindProtocol},
		{"rpc timeout", &rpcclient.TimeoutError{Method: "eth_call"}, KindTimeout},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), KindCanceled},
		{"canceled round trip", &rpcclient.TransportError{Endpoint: "x", Method: "eth_call", Err: context.Canceled}, KindCanceled},
		{"invalid", Invalid("op", "bad %d", 1), KindValidation},
		{"wrapped ledger error", fmt.Errorf("outer: %w", &Error{Kind: KindEventDecode, Err: ErrNoMatchingEvent}), KindEventDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStopped(t *testing.T) {
	detail := errors.New("tx 0x01 not mined")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stopped(ctx, "eth_getTransactionReceipt", detail)
	require.Equal(t, KindCanceled, KindOf(err))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, detail)

	ctx, cancel = context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	err = Stopped(ctx, "eth_getTransactionReceipt", detail)
	require.Equal(t, KindTimeout, KindOf(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(KindRPC, "op", nil))

	rpcErr := &rpcclient.RPCError{Code: -32000, Message: "execution reverted"}
	err := Wrap(KindContractCall, "getToken", rpcErr)
	require.Equal(t, KindContractCall, KindOf(err))
	require.Equal(t, "getToken: rpc error -32000: execution reverted", err.Error())

	var target *rpcclient.RPCError
	require.True(t, errors.As(err, &target))

	// Transport failures keep their kind whatever the fallback.
	err = Wrap(KindContractCall, "getToken", &rpcclient.TransportError{Endpoint: "x", Method: "eth_call", Err: errors.New("refused")})
	require.Equal(t, KindTransport, KindOf(err))
}
