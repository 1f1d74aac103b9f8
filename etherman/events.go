package etherman

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/contracts"
)

// EventDecoder finds events in receipts by signature hash. Unrelated logs
// and log order do not matter.
type EventDecoder struct {
	abi abi.ABI

	// emitter restricts matching to logs from one contract. Zero address
	// matches any emitter.
	emitter ethcommon.Address
}

func NewEventDecoder(contractABI abi.ABI, emitter ethcommon.Address) *EventDecoder {
	return &EventDecoder{abi: contractABI, emitter: emitter}
}

// NewVaultEventDecoder decodes the vault's events emitted by vault.
func NewVaultEventDecoder(vault ethcommon.Address) *EventDecoder {
	return NewEventDecoder(contracts.VaultABI, vault)
}

// Decode returns the fields of the first log matching eventName as a map
// keyed by argument name.
func (d *EventDecoder) Decode(receipt *types.Receipt, eventName string) (map[string]interface{}, error) {
	event, ok := d.abi.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventName)
	}
	return DecodeEvent(receipt, event, d.emitter)
}

// DecodeEvent is Decode for an explicit ABI event fragment.
func DecodeEvent(receipt *types.Receipt, event abi.Event, emitter ethcommon.Address) (map[string]interface{}, error) {
	if receipt == nil {
		return nil, ErrEventNotFound
	}

	for _, vlog := range receipt.Logs {
		if vlog == nil || len(vlog.Topics) == 0 || vlog.Topics[0] != event.ID {
			continue
		}
		if emitter != (ethcommon.Address{}) && vlog.Address != emitter {
			continue
		}
		return unpackLog(event, vlog)
	}

	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, event.Name)
}

func unpackLog(event abi.Event, vlog *types.Log) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if err := event.Inputs.UnpackIntoMap(fields, vlog.Data); err != nil {
		return nil, err
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(vlog.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%s: expected %d indexed topics, got %d", event.Name, len(indexed), len(vlog.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, vlog.Topics[1:]); err != nil {
		return nil, err
	}
	return fields, nil
}

func (d *EventDecoder) DecodeBanknoteMinted(receipt *types.Receipt) (*agreement.BanknoteMintedEvent, error) {
	fields, err := d.Decode(receipt, contracts.EventBanknoteMinted)
	if err != nil {
		return nil, err
	}
	return mintedFromFields(receipt.TxHash, fields)
}

func (d *EventDecoder) DecodeBanknoteRedeemed(receipt *types.Receipt) (*agreement.BanknoteRedeemedEvent, error) {
	fields, err := d.Decode(receipt, contracts.EventBanknoteRedeemed)
	if err != nil {
		return nil, err
	}
	return redeemedFromFields(receipt.TxHash, fields)
}

// SkimmedEvent mirrors surplusSkimmed(owner, erc20, amount).
type SkimmedEvent struct {
	TxHash ethcommon.Hash
	Owner  ethcommon.Address
	Erc20  ethcommon.Address
	Amount *big.Int
}

func (d *EventDecoder) DecodeSurplusSkimmed(receipt *types.Receipt) (*SkimmedEvent, error) {
	fields, err := d.Decode(receipt, contracts.EventSurplusSkimmed)
	if err != nil {
		return nil, err
	}
	ev := &SkimmedEvent{TxHash: receipt.TxHash}
	if ev.Owner, err = fieldAddress(fields, "owner"); err != nil {
		return nil, err
	}
	if ev.Erc20, err = fieldAddress(fields, "erc20"); err != nil {
		return nil, err
	}
	if ev.Amount, err = fieldBig(fields, "amount"); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeLogs returns every vault event in logs as its typed value, keyed by
// signature hash. Logs of other signatures or other emitters are skipped;
// a vault log that does not decode fails the whole call.
func (d *EventDecoder) DecodeLogs(logs []*types.Log) ([]interface{}, error) {
	events := []interface{}{}
	for _, vlog := range logs {
		ev, err := d.DecodeLog(vlog)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// DecodeLog decodes a single vault log. It returns nil, nil for logs of
// other signatures or other emitters.
func (d *EventDecoder) DecodeLog(vlog *types.Log) (interface{}, error) {
	if vlog == nil || len(vlog.Topics) == 0 {
		return nil, nil
	}
	if d.emitter != (ethcommon.Address{}) && vlog.Address != d.emitter {
		return nil, nil
	}

	switch vlog.Topics[0] {
	case BanknoteMintedSignatureHash:
		fields, err := unpackLog(d.abi.Events[contracts.EventBanknoteMinted], vlog)
		if err != nil {
			return nil, err
		}
		ev, err := mintedFromFields(vlog.TxHash, fields)
		if err != nil {
			return nil, err
		}
		return ev, nil
	case BanknoteRedeemedSignatureHash:
		fields, err := unpackLog(d.abi.Events[contracts.EventBanknoteRedeemed], vlog)
		if err != nil {
			return nil, err
		}
		ev, err := redeemedFromFields(vlog.TxHash, fields)
		if err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, nil
}

func mintedFromFields(txHash ethcommon.Hash, fields map[string]interface{}) (*agreement.BanknoteMintedEvent, error) {
	var err error
	ev := &agreement.BanknoteMintedEvent{TxHash: txHash}
	if ev.Minter, err = fieldAddress(fields, "minter"); err != nil {
		return nil, err
	}
	if ev.Erc20, err = fieldAddress(fields, "erc20"); err != nil {
		return nil, err
	}
	if ev.Id, err = fieldBig(fields, "id"); err != nil {
		return nil, err
	}
	if ev.Denomination, err = fieldBig(fields, "denomination"); err != nil {
		return nil, err
	}
	return ev, nil
}

func redeemedFromFields(txHash ethcommon.Hash, fields map[string]interface{}) (*agreement.BanknoteRedeemedEvent, error) {
	var err error
	ev := &agreement.BanknoteRedeemedEvent{TxHash: txHash}
	if ev.Redeemer, err = fieldAddress(fields, "redeemer"); err != nil {
		return nil, err
	}
	if ev.Erc20, err = fieldAddress(fields, "erc20"); err != nil {
		return nil, err
	}
	if ev.Amount, err = fieldBig(fields, "amount"); err != nil {
		return nil, err
	}
	if ev.Id, err = fieldBig(fields, "id"); err != nil {
		return nil, err
	}
	desc, ok := fields["description"].([32]byte)
	if !ok {
		return nil, fmt.Errorf("%w: description", ErrUnexpectedOutput)
	}
	ev.Description = desc
	return ev, nil
}

func fieldAddress(fields map[string]interface{}, name string) (ethcommon.Address, error) {
	v, ok := fields[name].(ethcommon.Address)
	if !ok {
		return ethcommon.Address{}, fmt.Errorf("%w: %s", ErrUnexpectedOutput, name)
	}
	return v, nil
}

func fieldBig(fields map[string]interface{}, name string) (*big.Int, error) {
	v, ok := fields[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedOutput, name)
	}
	return v, nil
}
