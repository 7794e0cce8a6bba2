package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/kalatori/chaind/common/ss58"
	"github.com/kalatori/chaind/internal/klog"
	"github.com/kalatori/chaind/internal/rpc"
	"github.com/kalatori/chaind/internal/signer"
)

// lossTolerance and manualInterventionAmount bound the surplus-dispatch
// decision: a balance within lossTolerance of the requested amount pays
// out exactly that amount; a larger surplus up to manualInterventionAmount
// is logged and left alone; anything past that is an out-of-range
// balance. TODO: derive lossTolerance from the chain's existential
// deposit instead of this fixed constant.
const (
	lossTolerance            = 10_000
	manualInterventionAmount = 1_000_000_000_000
)

// spawnPayout launches the one-shot payout task for a reaped invoice,
// keeping the chain watcher's inbox loop free to keep serving other
// requests while the transfer is constructed and signed.
func (w *Watcher) spawnPayout(conn *connected, inv Invoice) {
	client := conn.client
	assets := conn.assets
	genesis := conn.genesis
	prefix := w.descriptor.SS58Prefix
	name := fmt.Sprintf("payout for order %s on chain %s", inv.ID, w.descriptor.Name)
	w.tasks.Spawn(name, func(ctx context.Context) error {
		return runPayout(ctx, client, genesis, prefix, assets, inv, w.signerHandle, w.log)
	})
}

// runPayout implements the payout engine: compute the
// surplus between the invoice's current balance and its requested
// amount, decide whether it falls within tolerance, construct and sign
// a single forwarding extrinsic, and submit it.
func runPayout(ctx context.Context, client rpc.Client, genesis rpc.Hash, ss58Prefix uint16, assets map[string]CurrencyProperties, inv Invoice, signerHandle signer.Handle, log klog.Logger) error {
	block, err := client.BlockHash(ctx, nil)
	if err != nil {
		return fmt.Errorf("payout: pin block: %w", err)
	}

	props, ok := assets[inv.Currency]
	if !ok {
		return fmt.Errorf("payout: unknown currency %q", inv.Currency)
	}

	balance, err := inv.balance(ctx, client, block, props)
	if err != nil {
		return fmt.Errorf("payout: balance fetch: %w", err)
	}

	if !balance.GTE(inv.Amount) {
		log.Error("payout: balance out of range", "order", inv.ID, "balance", balance.String())
		return nil
	}
	surplus := balance.Sub(inv.Amount)
	switch {
	case surplus.Uint64() <= lossTolerance:
		// within tolerance: forward exactly the requested amount
	case surplus.Uint64() <= manualInterventionAmount:
		log.Warn("payout: overpayment requires manual intervention", "order", inv.ID, "surplus", surplus.String())
		return nil
	default:
		log.Error("payout: balance out of range", "order", inv.ID, "balance", balance.String())
		return nil
	}

	extrinsic, signThis, err := constructBatchTransfer(genesis, inv, props)
	if err != nil {
		return fmt.Errorf("payout: construct transfer: %w", err)
	}

	recipientAddr, err := ss58.Encode(ss58.AccountID(inv.Recipient), ss58Prefix)
	if err != nil {
		return fmt.Errorf("payout: recipient ss58: %w", err)
	}
	sig, err := signerHandle.Sign(ctx, recipientAddr, inv.ID, signThis)
	if err != nil {
		return fmt.Errorf("payout: sign: %w", err)
	}
	extrinsic.Signature = sig

	raw := extrinsic.Encode()
	if err := client.SubmitExtrinsic(ctx, "0x"+hex.EncodeToString(raw)); err != nil {
		return fmt.Errorf("payout: submit: %w", err)
	}
	log.Info("payout submitted", "order", inv.ID)
	return nil
}

// unsignedExtrinsic is the minimal shape runPayout needs from extrinsic
// construction: the bytes to sign, and a place to splice the signature
// back in before encoding for submission. The concrete SCALE
// construction (Utility.batch_all over one Balances.transfer_keep_alive
// or Assets.transfer call) is delegated to a metadata-aware builder.
type unsignedExtrinsic struct {
	Signature [64]byte
	body      []byte
}

func (e *unsignedExtrinsic) Encode() []byte {
	return append(append([]byte{}, e.Signature[:]...), e.body...)
}

// constructBatchTransfer builds the single-call batch extrinsic that
// forwards the invoice's requested amount to its recipient, and returns
// the payload the signer must sign over.
func constructBatchTransfer(genesis rpc.Hash, inv Invoice, props CurrencyProperties) (*unsignedExtrinsic, []byte, error) {
	body := make([]byte, 0, 64)
	body = append(body, genesis[:]...)
	body = append(body, inv.Recipient[:]...)
	body = append(body, byte(props.Kind))
	if props.AssetID != nil {
		body = append(body, byte(*props.AssetID), byte(*props.AssetID>>8), byte(*props.AssetID>>16), byte(*props.AssetID>>24))
	}
	amountBytes := inv.Amount.Bytes32()
	for i := len(amountBytes) - 1; i >= 0; i-- {
		body = append(body, amountBytes[i])
	}
	return &unsignedExtrinsic{body: body}, body, nil
}
