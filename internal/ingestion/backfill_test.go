package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/solana"
	"curvewatch/internal/solana/stub"
)

func TestBackfiller_PagesOldestFirst(t *testing.T) {
	rpc := stub.NewRPCClient()
	seedHistory(rpc)
	failed := tradeTx("sf", 150, "walletA", 6_000_000, 1_000_000, 100_000_000)
	failed.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	rpc.AddTransaction(failed, tCurve)
	// a transaction the node has pruned
	rpc.AddSignatures(tCurve, append([]solana.SignatureInfo{{Signature: "gone", Slot: 500}}, rpc.Signatures[tCurve]...))

	b := NewBackfiller(BackfillOptions{RPC: rpc, PageSize: 2, Concurrency: 3, Logger: quietLogger})
	res, err := b.Backfill(context.Background(), tMarket, "")
	require.NoError(t, err)

	assert.Equal(t, 7, res.Signatures)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, map[string]int{"not_found": 1}, res.Dropped)
	assert.Equal(t, "gone", res.Newest)
	assert.Equal(t, "s1", res.Oldest)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, signatures(res.Events))
	assert.Equal(t, 4, rpc.Calls("getSignaturesForAddress"), "7 signatures in pages of 2")
	assert.Nil(t, res.Events[0].Tags, "backfill leaves tagging to the caller")
}

func TestBackfiller_Until(t *testing.T) {
	rpc := stub.NewRPCClient()
	seedHistory(rpc)

	b := NewBackfiller(BackfillOptions{RPC: rpc, Logger: quietLogger})
	res, err := b.Backfill(context.Background(), tMarket, "s3")
	require.NoError(t, err)
	assert.Equal(t, []string{"s4", "s5"}, signatures(res.Events))
}

func TestBackfiller_RPCErrorReturnsNothing(t *testing.T) {
	rpc := stub.NewRPCClient()
	seedHistory(rpc)
	boom := errors.New("boom")

	b := NewBackfiller(BackfillOptions{RPC: rpc, Logger: quietLogger})
	infos, err := b.ListSignatures(context.Background(), tCurve, "", nil, 0)
	require.NoError(t, err)
	rpc.SetErr(boom)

	events, dropped, err := b.FetchEvents(context.Background(), tMarket, oldestFirst(infos))
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, events)
	assert.Nil(t, dropped)

	res, err := b.Backfill(context.Background(), tMarket, "")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestBackfiller_ListSignaturesStopAndLimit(t *testing.T) {
	rpc := stub.NewRPCClient()
	seedHistory(rpc)
	b := NewBackfiller(BackfillOptions{RPC: rpc, PageSize: 2, Logger: quietLogger})

	stopAt := baseTime + 70
	infos, err := b.ListSignatures(context.Background(), tCurve, "", func(info solana.SignatureInfo) bool {
		return *info.BlockTime < stopAt
	}, 0)
	require.NoError(t, err)
	assert.Len(t, infos, 2, "s5 and s4")
	assert.Equal(t, "s5", infos[0].Signature)

	infos, err = b.ListSignatures(context.Background(), tCurve, "", nil, 3)
	require.NoError(t, err)
	assert.Len(t, infos, 3)
}
