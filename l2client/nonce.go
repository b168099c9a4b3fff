package l2client

import (
	"context"

	"github.com/jupiterxyz/zkbridge/retryutil"
)

// NonceGetter is the subset of L2Client NonceSource needs.
type NonceGetter interface {
	GetNonce(ctx context.Context) (uint64, error)
}

// NonceSource wraps an L2Client's GetNonce with the bounded-retry
// contract shared by every remote call site in this core (spec §4.2,
// §5 "bounded retry (3 attempts, 2s spacing)").
type NonceSource struct {
	client NonceGetter
}

func NewNonceSource(client NonceGetter) *NonceSource {
	return &NonceSource{client: client}
}

// NextNonce returns a nonce the L2 RPC will currently accept. The
// core treats it as advisory (spec §4.2): staleness is discovered by
// the L2 on submission, not here.
func (n *NonceSource) NextNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	err := retryutil.ThreeAttempts(ctx, func() error {
		got, err := n.client.GetNonce(ctx)
		if err != nil {
			return err
		}
		nonce = got
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}
