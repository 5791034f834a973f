package swap

import (
	"encoding/base64"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
)

// Instruction is an instruction as serialized by the router.
type Instruction struct {
	ProgramID string `json:"programId"`
	Accounts  []struct {
		Pubkey     string `json:"pubkey"`
		IsSigner   bool   `json:"isSigner"`
		IsWritable bool   `json:"isWritable"`
	} `json:"accounts"`
	Data string `json:"data"`
}

func (i *Instruction) Decode() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(i.ProgramID)
	if err != nil {
		return nil, errors.Wrapf(err, "program id %q", i.ProgramID)
	}
	metas := make(solana.AccountMetaSlice, 0, len(i.Accounts))
	for _, a := range i.Accounts {
		key, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, errors.Wrapf(err, "account %q", a.Pubkey)
		}
		metas = append(metas, solana.NewAccountMeta(key, a.IsWritable, a.IsSigner))
	}
	data, err := base64.StdEncoding.DecodeString(i.Data)
	if err != nil {
		return nil, errors.Wrap(err, "instruction data")
	}
	return solana.NewInstruction(programID, metas, data), nil
}

type instructionsResponse struct {
	TokenLedgerInstruction    *Instruction  `json:"tokenLedgerInstruction"`
	ComputeBudgetInstructions []Instruction `json:"computeBudgetInstructions"`
	SetupInstructions         []Instruction `json:"setupInstructions"`
	SwapInstruction           *Instruction  `json:"swapInstruction"`
	CleanupInstruction        *Instruction  `json:"cleanupInstruction"`
	OtherInstructions         []Instruction `json:"otherInstructions"`
	AddressLookupTables       []string      `json:"addressLookupTableAddresses"`
	Error                     string        `json:"error"`
}

// Instructions is a decoded swap bundle.
type Instructions struct {
	ComputeBudget []solana.Instruction
	Setup         []solana.Instruction
	Swap          solana.Instruction
	Cleanup       solana.Instruction
	Other         []solana.Instruction
	LookupTables  []solana.PublicKey
}

// Ordered returns the instructions in execution order: compute budget, setup, swap, cleanup,
// other.
func (b *Instructions) Ordered() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(b.ComputeBudget)+len(b.Setup)+len(b.Other)+2)
	out = append(out, b.ComputeBudget...)
	out = append(out, b.Setup...)
	if b.Swap != nil {
		out = append(out, b.Swap)
	}
	if b.Cleanup != nil {
		out = append(out, b.Cleanup)
	}
	return append(out, b.Other...)
}

func decodeAll(list []Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(list))
	for i := range list {
		ix, err := list[i].Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, ix)
	}
	return out, nil
}

func (r *instructionsResponse) decode() (*Instructions, error) {
	if r.SwapInstruction == nil {
		return nil, errors.New("router returned no swap instruction")
	}
	var (
		b   Instructions
		err error
	)
	if b.ComputeBudget, err = decodeAll(r.ComputeBudgetInstructions); err != nil {
		return nil, errors.Wrap(err, "compute budget instruction")
	}
	if b.Setup, err = decodeAll(r.SetupInstructions); err != nil {
		return nil, errors.Wrap(err, "setup instruction")
	}
	if b.Swap, err = r.SwapInstruction.Decode(); err != nil {
		return nil, errors.Wrap(err, "swap instruction")
	}
	if r.CleanupInstruction != nil {
		if b.Cleanup, err = r.CleanupInstruction.Decode(); err != nil {
			return nil, errors.Wrap(err, "cleanup instruction")
		}
	}
	if b.Other, err = decodeAll(r.OtherInstructions); err != nil {
		return nil, errors.Wrap(err, "other instruction")
	}
	for _, s := range r.AddressLookupTables {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, errors.Wrapf(err, "lookup table %q", s)
		}
		b.LookupTables = append(b.LookupTables, key)
	}
	return &b, nil
}
