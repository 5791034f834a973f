// Package ledgertest provides an in-memory Solana cluster that runs the subset of the Squads v4
// program the wallet uses. It implements the same methods as ledger.Client.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/squads"
)

// Squads program error codes raised by the simulator.
const (
	ErrUnauthorized          uint32 = 6005
	ErrInvalidProposalStatus uint32 = 6007
	ErrAlreadyApproved       uint32 = 6011
	ErrInvalidAccounts       uint32 = 6013
	ErrConstraintSeeds       uint32 = 2006
	// ErrSystemInsufficientFunds is the system program's ResultWithNegativeLamports.
	ErrSystemInsufficientFunds uint32 = 1
)

// ProgramError is returned by instruction handlers and inner programs.
type ProgramError struct {
	Custom uint32
	// Name is used instead of Custom for builtin errors such as "InsufficientFundsForRent".
	Name string
	Log  string
}

func (e *ProgramError) Error() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("custom program error %d", e.Custom)
}

// Invocation is an instruction of an executed vault transaction as seen by an inner program.
type Invocation struct {
	Accounts []solana.PublicKey
	Data     []byte
	// Signers are the accounts signing for the instruction: the vault and ephemeral signers.
	Signers map[solana.PublicKey]bool
	state   *overlay
}

func (inv *Invocation) Lamports(address solana.PublicKey) uint64 {
	if acc := inv.state.get(address); acc != nil {
		return acc.Lamports
	}
	return 0
}

// Transfer moves lamports, failing like the system program when from is short.
func (inv *Invocation) Transfer(from, to solana.PublicKey, lamports uint64) error {
	return transfer(inv.state, from, to, lamports)
}

// InnerProgram runs an instruction of an executed vault transaction.
type InnerProgram func(inv *Invocation) error

// Chain is the simulated cluster. All methods are safe for concurrent use.
type Chain struct {
	mu        sync.Mutex
	programID solana.PublicKey
	treasury  solana.PublicKey
	accounts  map[solana.PublicKey]*core.Account
	statuses  map[solana.Signature]*core.SignatureStatus
	slot      uint64

	hidden       map[solana.PublicKey]int
	sendErrors   []error
	txErrors     []*ProgramError
	dropNext     int
	statusDelays map[solana.Signature]int
	programs     map[solana.PublicKey]InnerProgram

	// Submitted lists every transaction that reached the simulator, including failed ones.
	Submitted []*solana.Transaction
	Now       func() time.Time
}

func New() *Chain {
	c := &Chain{
		programID:    squads.ProgramID,
		treasury:     solana.PublicKeyFromBytes(sum("treasury")),
		accounts:     map[solana.PublicKey]*core.Account{},
		statuses:     map[solana.Signature]*core.SignatureStatus{},
		hidden:       map[solana.PublicKey]int{},
		statusDelays: map[solana.Signature]int{},
		programs:     map[solana.PublicKey]InnerProgram{},
		Now:          time.Now,
	}
	configAddress, err := squads.ProgramConfigAddress(c.programID)
	if err != nil {
		panic(err)
	}
	cfg := squads.ProgramConfig{Treasury: c.treasury}
	data, err := cfg.MarshalBinary()
	if err != nil {
		panic(err)
	}
	c.accounts[configAddress] = &core.Account{Address: configAddress, Owner: c.programID, Lamports: 1, Data: data}
	c.programs[solana.SystemProgramID] = systemProgram
	return c
}

func sum(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func (c *Chain) ProgramID() solana.PublicKey {
	return c.programID
}

func (c *Chain) Treasury() solana.PublicKey {
	return c.treasury
}

// SetBalance creates or updates a system-owned account.
func (c *Chain) SetBalance(address solana.PublicKey, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.accounts[address]; ok {
		acc.Lamports = lamports
		return
	}
	c.accounts[address] = &core.Account{Address: address, Owner: solana.SystemProgramID, Lamports: lamports}
}

func (c *Chain) PutAccount(account core.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := account
	acc.Data = append([]byte(nil), account.Data...)
	c.accounts[account.Address] = &acc
}

// PutProgramAccount stores a Squads account encoded by marshal at address.
func (c *Chain) PutProgramAccount(address solana.PublicKey, marshal interface{ MarshalBinary() ([]byte, error) }) error {
	data, err := marshal.MarshalBinary()
	if err != nil {
		return err
	}
	c.PutAccount(core.Account{Address: address, Owner: c.programID, Lamports: 1, Data: data})
	return nil
}

// AddLookupTable stores an address lookup table holding addresses.
func (c *Chain) AddLookupTable(address solana.PublicKey, addresses solana.PublicKeySlice) {
	data := make([]byte, 56, 56+32*len(addresses))
	binary.LittleEndian.PutUint32(data[0:4], 1)
	binary.LittleEndian.PutUint64(data[4:12], ^uint64(0))
	for _, a := range addresses {
		data = append(data, a[:]...)
	}
	c.PutAccount(core.Account{Address: address, Owner: ledger.AddressLookupTableProgramID, Lamports: 1, Data: data})
}

// Account returns a copy of the stored account, or nil.
func (c *Chain) Account(address solana.PublicKey) *core.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, ok := c.accounts[address]
	if !ok {
		return nil
	}
	cp := *acc
	cp.Data = append([]byte(nil), acc.Data...)
	return &cp
}

func (c *Chain) Multisig(address solana.PublicKey) (*squads.Multisig, error) {
	acc := c.Account(address)
	if acc == nil {
		return nil, core.ErrEntityNotFound
	}
	return squads.DecodeMultisig(acc.Data)
}

func (c *Chain) Proposal(address solana.PublicKey) (*squads.Proposal, error) {
	acc := c.Account(address)
	if acc == nil {
		return nil, core.ErrEntityNotFound
	}
	return squads.DecodeProposal(acc.Data)
}

// HideAccount makes the next reads GetAccount calls for address report it missing, as a lagging
// node would.
func (c *Chain) HideAccount(address solana.PublicKey, reads int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hidden[address] = reads
}

// FailNextSend makes the next submission return err without touching state.
func (c *Chain) FailNextSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrors = append(c.sendErrors, err)
}

// FailNextTransaction makes the next submission fail in its first instruction with perr.
func (c *Chain) FailNextTransaction(perr *ProgramError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txErrors = append(c.txErrors, perr)
}

// DropNextSend accepts the next submissions but never lands them.
func (c *Chain) DropNextSend(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropNext += n
}

// RegisterProgram installs an inner program executed by vault_transaction_execute.
func (c *Chain) RegisterProgram(programID solana.PublicKey, program InnerProgram) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs[programID] = program
}

func (c *Chain) GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if n := c.hidden[address]; n > 0 {
		c.hidden[address] = n - 1
		c.mu.Unlock()
		return nil, core.ErrEntityNotFound
	}
	c.mu.Unlock()
	acc := c.Account(address)
	if acc == nil {
		return nil, core.ErrEntityNotFound
	}
	return acc, nil
}

func (c *Chain) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	acc := c.Account(address)
	if acc == nil {
		return 0, nil
	}
	return acc.Lamports, nil
}

func (c *Chain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return solana.HashFromBytes(sum(fmt.Sprintf("blockhash-%d", c.slot))), nil
}

func (c *Chain) GetLookupTable(ctx context.Context, address solana.PublicKey) (solana.PublicKeySlice, error) {
	acc, err := c.GetAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return ledger.DecodeLookupTable(acc)
}

func (c *Chain) SignatureStatus(ctx context.Context, sig solana.Signature) (*core.SignatureStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.statusDelays[sig]; n > 0 {
		c.statusDelays[sig] = n - 1
		return nil, core.ErrEntityNotFound
	}
	status, ok := c.statuses[sig]
	if !ok {
		return nil, core.ErrEntityNotFound
	}
	cp := *status
	return &cp, nil
}

// DelayStatus hides the status of sig for the next polls.
func (c *Chain) DelayStatus(sig solana.Signature, polls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusDelays[sig] = polls
}

func (c *Chain) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) (*core.SignatureStatus, error) {
	return ledger.ConfirmTransaction(ctx, c, sig, timeout, time.Millisecond)
}

func (c *Chain) SendRawTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, &core.RPCError{Code: -32602, Message: "failed to deserialize transaction: " + err.Error()}
	}
	if len(tx.Message.AddressTableLookups) > 0 {
		c.mu.Lock()
		tables := map[solana.PublicKey]solana.PublicKeySlice{}
		for _, lookup := range tx.Message.AddressTableLookups {
			if acc, ok := c.accounts[lookup.AccountKey]; ok {
				if addresses, err := ledger.DecodeLookupTable(acc); err == nil {
					tables[lookup.AccountKey] = addresses
				}
			}
		}
		c.mu.Unlock()
		if err := tx.Message.SetAddressTables(tables); err != nil {
			return solana.Signature{}, &core.RPCError{Code: -32602, Message: err.Error()}
		}
	}
	return c.SendTransaction(ctx, tx, skipPreflight)
}

// SendTransaction runs tx atomically. Without skipPreflight a failing transaction is rejected as
// a simulation error; with it, the failure is recorded in the signature status.
func (c *Chain) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Submitted = append(c.Submitted, tx)
	if len(c.sendErrors) > 0 {
		err := c.sendErrors[0]
		c.sendErrors = c.sendErrors[1:]
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return solana.Signature{}, &core.RPCError{Code: -32003, Message: "Transaction signature verification failure"}
	}
	sig := tx.Signatures[0]
	if c.dropNext > 0 {
		c.dropNext--
		return sig, nil
	}
	state := &overlay{base: c.accounts, writes: map[solana.PublicKey]*core.Account{}}
	ixIndex, logs, perr := c.process(state, tx)
	if perr == nil && len(c.txErrors) > 0 {
		perr, ixIndex = c.txErrors[0], 0
		c.txErrors = c.txErrors[1:]
	}
	c.slot++
	if perr != nil {
		if perr.Log != "" {
			logs = append(logs, perr.Log)
		}
		txErr := instructionError(ixIndex, perr)
		if !skipPreflight {
			return solana.Signature{}, &core.RPCError{
				Code:             -32002,
				Message:          "Transaction simulation failed: " + perr.Error(),
				Logs:             logs,
				InstructionError: txErr,
			}
		}
		c.statuses[sig] = &core.SignatureStatus{Signature: sig, Slot: c.slot, Confirmation: core.Confirmed, Err: txErr}
		return sig, nil
	}
	for k, v := range state.writes {
		c.accounts[k] = v
	}
	c.statuses[sig] = &core.SignatureStatus{Signature: sig, Slot: c.slot, Confirmation: core.Confirmed}
	return sig, nil
}

func instructionError(index int, perr *ProgramError) any {
	var detail any = map[string]any{"Custom": float64(perr.Custom)}
	if perr.Name != "" {
		detail = perr.Name
	}
	return map[string]any{"InstructionError": []any{float64(index), detail}}
}

// overlay buffers account writes of one transaction.
type overlay struct {
	base   map[solana.PublicKey]*core.Account
	writes map[solana.PublicKey]*core.Account
}

func (o *overlay) get(address solana.PublicKey) *core.Account {
	if acc, ok := o.writes[address]; ok {
		return acc
	}
	if acc, ok := o.base[address]; ok {
		cp := *acc
		cp.Data = append([]byte(nil), acc.Data...)
		o.writes[address] = &cp
		return &cp
	}
	return nil
}

func (o *overlay) put(acc *core.Account) {
	o.writes[acc.Address] = acc
}

func (c *Chain) process(state *overlay, tx *solana.Transaction) (int, []string, *ProgramError) {
	keys, err := tx.Message.GetAllKeys()
	if err != nil {
		return 0, nil, &ProgramError{Name: "AddressLookupTableNotFound"}
	}
	var logs []string
	for i, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			return i, logs, &ProgramError{Name: "InvalidAccountIndex"}
		}
		program := keys[ix.ProgramIDIndex]
		accounts := make([]solana.PublicKey, 0, len(ix.Accounts))
		for _, a := range ix.Accounts {
			if int(a) >= len(keys) {
				return i, logs, &ProgramError{Name: "InvalidAccountIndex"}
			}
			accounts = append(accounts, keys[a])
		}
		logs = append(logs, fmt.Sprintf("Program %s invoke [1]", program))
		signer := func(k solana.PublicKey) bool { return tx.Message.IsSigner(k) }
		var perr *ProgramError
		switch {
		case program.Equals(c.programID):
			perr = c.runSquads(state, accounts, ix.Data, signer)
		case program.Equals(solana.SystemProgramID):
			perr = c.runSystem(state, accounts, ix.Data, signer)
		}
		if perr != nil {
			logs = append(logs, fmt.Sprintf("Program %s failed: %s", program, perr.Error()))
			return i, logs, perr
		}
		logs = append(logs, fmt.Sprintf("Program %s success", program))
	}
	return 0, logs, nil
}
