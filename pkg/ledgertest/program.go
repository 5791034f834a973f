package ledgertest

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/squads"
)

const (
	errInvalidThreshold        uint32 = 6004
	errInvalidTransactionIndex uint32 = 6018
	errAccountOwnedByWrong     uint32 = 3007
	errAccountNotInitialized   uint32 = 3012
	systemTransfer             uint32 = 2
)

var (
	missingSignature = &ProgramError{Name: "MissingRequiredSignature"}
	invalidData      = &ProgramError{Name: "InvalidInstructionData"}
)

func alreadyInUse(address solana.PublicKey) *ProgramError {
	return &ProgramError{
		Custom: 0,
		Log:    fmt.Sprintf("Allocate: account Address { address: %s, base: None } already in use", address),
	}
}

type signerFunc func(solana.PublicKey) bool

func (c *Chain) runSquads(state *overlay, accounts []solana.PublicKey, data []byte, signer signerFunc) *ProgramError {
	switch squads.Kind(data) {
	case squads.KindMultisigCreate:
		return c.createMultisig(state, accounts, data, signer)
	case squads.KindVaultTransactionCreate:
		return c.createVaultTransaction(state, accounts, data, signer)
	case squads.KindProposalCreate:
		return c.createProposal(state, accounts, data, signer)
	case squads.KindProposalApprove:
		return c.approveProposal(state, accounts, signer)
	case squads.KindVaultTransactionExecute:
		return c.executeVaultTransaction(state, accounts, signer)
	}
	return &ProgramError{Custom: 101, Log: "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound."}
}

func (c *Chain) runSystem(state *overlay, accounts []solana.PublicKey, data []byte, signer signerFunc) *ProgramError {
	if len(data) < 12 || binary.LittleEndian.Uint32(data) != systemTransfer || len(accounts) < 2 {
		return nil
	}
	if !signer(accounts[0]) {
		return missingSignature
	}
	return asProgramError(transfer(state, accounts[0], accounts[1], binary.LittleEndian.Uint64(data[4:12])))
}

func systemProgram(inv *Invocation) error {
	if len(inv.Data) < 12 || binary.LittleEndian.Uint32(inv.Data) != systemTransfer || len(inv.Accounts) < 2 {
		return nil
	}
	if !inv.Signers[inv.Accounts[0]] {
		return missingSignature
	}
	return inv.Transfer(inv.Accounts[0], inv.Accounts[1], binary.LittleEndian.Uint64(inv.Data[4:12]))
}

func transfer(state *overlay, from, to solana.PublicKey, lamports uint64) error {
	src := state.get(from)
	if src == nil || src.Lamports < lamports {
		have := uint64(0)
		if src != nil {
			have = src.Lamports
		}
		return &ProgramError{
			Custom: ErrSystemInsufficientFunds,
			Log:    fmt.Sprintf("Transfer: insufficient lamports %d, need %d", have, lamports),
		}
	}
	dst := state.get(to)
	if dst == nil {
		dst = &core.Account{Address: to, Owner: solana.SystemProgramID}
	}
	src.Lamports -= lamports
	dst.Lamports += lamports
	state.put(src)
	state.put(dst)
	return nil
}

func asProgramError(err error) *ProgramError {
	if err == nil {
		return nil
	}
	if perr, ok := err.(*ProgramError); ok {
		return perr
	}
	return &ProgramError{Custom: 0, Log: "Program log: " + err.Error()}
}

func (c *Chain) load(state *overlay, address solana.PublicKey) (*core.Account, *ProgramError) {
	acc := state.get(address)
	if acc == nil {
		return nil, &ProgramError{Custom: errAccountNotInitialized}
	}
	if !acc.OwnedBy(c.programID) {
		return nil, &ProgramError{Custom: errAccountOwnedByWrong}
	}
	return acc, nil
}

func (c *Chain) loadMultisig(state *overlay, address solana.PublicKey) (*squads.Multisig, *ProgramError) {
	acc, perr := c.load(state, address)
	if perr != nil {
		return nil, perr
	}
	m, err := squads.DecodeMultisig(acc.Data)
	if err != nil {
		return nil, &ProgramError{Name: "InvalidAccountData"}
	}
	return m, nil
}

func (c *Chain) store(state *overlay, address solana.PublicKey, v interface{ MarshalBinary() ([]byte, error) }) *ProgramError {
	data, err := v.MarshalBinary()
	if err != nil {
		return &ProgramError{Name: "InvalidAccountData"}
	}
	acc := state.get(address)
	if acc == nil {
		acc = &core.Account{Address: address, Owner: c.programID, Lamports: 1}
	}
	acc.Data = data
	state.put(acc)
	return nil
}

func (c *Chain) createMultisig(state *overlay, accounts []solana.PublicKey, data []byte, signer signerFunc) *ProgramError {
	if len(accounts) < 5 {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	configAddress, treasury, multisigAddress, createKey, creator := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4]
	if !signer(createKey) || !signer(creator) {
		return missingSignature
	}
	expected, err := squads.MultisigAddress(c.programID, createKey)
	if err != nil || !expected.Equals(multisigAddress) {
		return &ProgramError{Custom: ErrConstraintSeeds}
	}
	configAccount, perr := c.load(state, configAddress)
	if perr != nil {
		return perr
	}
	cfg, err := squads.DecodeProgramConfig(configAccount.Data)
	if err != nil || !cfg.Treasury.Equals(treasury) {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	if state.get(multisigAddress) != nil {
		return alreadyInUse(multisigAddress)
	}
	args, err := squads.DecodeMultisigCreateArgs(data)
	if err != nil {
		return invalidData
	}
	voters := 0
	for _, m := range args.Members {
		if m.Has(squads.PermissionVote) {
			voters++
		}
	}
	if args.Threshold == 0 || int(args.Threshold) > voters {
		return &ProgramError{Custom: errInvalidThreshold}
	}
	m := squads.Multisig{
		CreateKey:     createKey,
		Threshold:     args.Threshold,
		TimeLock:      args.TimeLock,
		RentCollector: args.RentCollector,
		Bump:          255,
		Members:       args.Members,
	}
	if args.ConfigAuthority != nil {
		m.ConfigAuthority = *args.ConfigAuthority
	}
	return c.store(state, multisigAddress, &m)
}

func (c *Chain) createVaultTransaction(state *overlay, accounts []solana.PublicKey, data []byte, signer signerFunc) *ProgramError {
	if len(accounts) < 4 {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	multisigAddress, txAddress, creator := accounts[0], accounts[1], accounts[2]
	if !signer(creator) {
		return missingSignature
	}
	m, perr := c.loadMultisig(state, multisigAddress)
	if perr != nil {
		return perr
	}
	if member, ok := m.Member(creator); !ok || !member.Has(squads.PermissionInitiate) {
		return &ProgramError{Custom: ErrUnauthorized}
	}
	args, err := squads.DecodeVaultTransactionCreateArgs(data)
	if err != nil {
		return invalidData
	}
	// the account may sit a few indexes past the counter when the caller probed over occupied slots
	var index uint64
	for candidate := m.TransactionIndex + 1; candidate <= m.TransactionIndex+32; candidate++ {
		addr, err := squads.TransactionAddress(c.programID, multisigAddress, candidate)
		if err == nil && addr.Equals(txAddress) {
			index = candidate
			break
		}
	}
	if index == 0 {
		return &ProgramError{Custom: ErrConstraintSeeds}
	}
	if state.get(txAddress) != nil {
		return alreadyInUse(txAddress)
	}
	message, err := squads.ParseCompactMessage(args.TransactionMessage)
	if err != nil {
		return invalidData
	}
	vtx := squads.VaultTransaction{
		Multisig:             multisigAddress,
		Creator:              creator,
		Index:                index,
		Bump:                 255,
		VaultIndex:           args.VaultIndex,
		VaultBump:            255,
		EphemeralSignerBumps: make([]uint8, args.EphemeralSigners),
		Message:              *message,
	}
	if perr := c.store(state, txAddress, &vtx); perr != nil {
		return perr
	}
	m.TransactionIndex = index
	return c.store(state, multisigAddress, m)
}

func (c *Chain) createProposal(state *overlay, accounts []solana.PublicKey, data []byte, signer signerFunc) *ProgramError {
	if len(accounts) < 4 {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	multisigAddress, proposalAddress, creator := accounts[0], accounts[1], accounts[2]
	if !signer(creator) {
		return missingSignature
	}
	m, perr := c.loadMultisig(state, multisigAddress)
	if perr != nil {
		return perr
	}
	if _, ok := m.Member(creator); !ok {
		return &ProgramError{Custom: ErrUnauthorized}
	}
	index, draft, err := squads.DecodeProposalCreateArgs(data)
	if err != nil {
		return invalidData
	}
	if index > m.TransactionIndex || index <= m.StaleTransactionIndex {
		return &ProgramError{Custom: errInvalidTransactionIndex}
	}
	expected, err := squads.ProposalAddress(c.programID, multisigAddress, index)
	if err != nil || !expected.Equals(proposalAddress) {
		return &ProgramError{Custom: ErrConstraintSeeds}
	}
	if state.get(proposalAddress) != nil {
		return alreadyInUse(proposalAddress)
	}
	p := squads.Proposal{
		Multisig:         multisigAddress,
		TransactionIndex: index,
		Status:           squads.ProposalActive,
		Timestamp:        c.Now().Unix(),
		Bump:             255,
		Approved:         []solana.PublicKey{},
		Rejected:         []solana.PublicKey{},
		Cancelled:        []solana.PublicKey{},
	}
	if draft {
		p.Status = squads.ProposalDraft
	}
	return c.store(state, proposalAddress, &p)
}

func (c *Chain) approveProposal(state *overlay, accounts []solana.PublicKey, signer signerFunc) *ProgramError {
	if len(accounts) < 3 {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	multisigAddress, memberKey, proposalAddress := accounts[0], accounts[1], accounts[2]
	if !signer(memberKey) {
		return missingSignature
	}
	m, perr := c.loadMultisig(state, multisigAddress)
	if perr != nil {
		return perr
	}
	if member, ok := m.Member(memberKey); !ok || !member.Has(squads.PermissionVote) {
		return &ProgramError{Custom: ErrUnauthorized}
	}
	acc, perr := c.load(state, proposalAddress)
	if perr != nil {
		return perr
	}
	p, err := squads.DecodeProposal(acc.Data)
	if err != nil || !p.Multisig.Equals(multisigAddress) {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	if p.Status != squads.ProposalActive {
		return &ProgramError{Custom: ErrInvalidProposalStatus}
	}
	for _, k := range p.Approved {
		if k.Equals(memberKey) {
			return &ProgramError{Custom: ErrAlreadyApproved}
		}
	}
	p.Approved = append(p.Approved, memberKey)
	if len(p.Approved) >= int(m.Threshold) {
		p.Status = squads.ProposalApproved
		p.Timestamp = c.Now().Unix()
	}
	return c.store(state, proposalAddress, p)
}

func (c *Chain) executeVaultTransaction(state *overlay, accounts []solana.PublicKey, signer signerFunc) *ProgramError {
	if len(accounts) < 4 {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	multisigAddress, proposalAddress, txAddress, memberKey := accounts[0], accounts[1], accounts[2], accounts[3]
	if !signer(memberKey) {
		return missingSignature
	}
	m, perr := c.loadMultisig(state, multisigAddress)
	if perr != nil {
		return perr
	}
	if member, ok := m.Member(memberKey); !ok || !member.Has(squads.PermissionExecute) {
		return &ProgramError{Custom: ErrUnauthorized}
	}
	proposalAccount, perr := c.load(state, proposalAddress)
	if perr != nil {
		return perr
	}
	p, err := squads.DecodeProposal(proposalAccount.Data)
	if err != nil {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	if p.Status != squads.ProposalApproved {
		return &ProgramError{Custom: ErrInvalidProposalStatus}
	}
	txAccount, perr := c.load(state, txAddress)
	if perr != nil {
		return perr
	}
	vtx, err := squads.DecodeVaultTransaction(txAccount.Data)
	if err != nil || vtx.Index != p.TransactionIndex || !vtx.Multisig.Equals(multisigAddress) {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}

	tables := map[solana.PublicKey]solana.PublicKeySlice{}
	for _, lookup := range vtx.Message.AddressTableLookups {
		acc := state.get(lookup.AccountKey)
		if acc == nil {
			return &ProgramError{Custom: ErrInvalidAccounts}
		}
		addresses, err := ledger.DecodeLookupTable(acc)
		if err != nil {
			return &ProgramError{Custom: ErrInvalidAccounts}
		}
		tables[lookup.AccountKey] = addresses
	}
	writable, readonly, err := vtx.Message.LoadedAddresses(tables)
	if err != nil {
		return &ProgramError{Custom: ErrInvalidAccounts}
	}
	var expected []solana.PublicKey
	for _, lookup := range vtx.Message.AddressTableLookups {
		expected = append(expected, lookup.AccountKey)
	}
	expected = append(expected, vtx.Message.AccountKeys...)
	expected = append(expected, writable...)
	expected = append(expected, readonly...)
	remaining := accounts[4:]
	if len(remaining) != len(expected) {
		return &ProgramError{Custom: ErrInvalidAccounts, Log: fmt.Sprintf("Program log: expected %d remaining accounts, got %d", len(expected), len(remaining))}
	}
	for i := range expected {
		if !expected[i].Equals(remaining[i]) {
			return &ProgramError{Custom: ErrInvalidAccounts}
		}
	}

	vault, err := squads.VaultAddress(c.programID, multisigAddress, vtx.VaultIndex)
	if err != nil {
		return &ProgramError{Custom: ErrConstraintSeeds}
	}
	signers := map[solana.PublicKey]bool{vault: true}
	for i := range vtx.EphemeralSignerBumps {
		ephemeral, err := squads.EphemeralSignerAddress(c.programID, txAddress, uint8(i))
		if err != nil {
			return &ProgramError{Custom: ErrConstraintSeeds}
		}
		signers[ephemeral] = true
	}
	all := append(append(append([]solana.PublicKey{}, vtx.Message.AccountKeys...), writable...), readonly...)
	for _, ix := range vtx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(all) {
			return &ProgramError{Custom: ErrInvalidAccounts}
		}
		inv := &Invocation{Data: ix.Data, Signers: signers, state: state}
		for _, i := range ix.AccountIndexes {
			if int(i) >= len(all) {
				return &ProgramError{Custom: ErrInvalidAccounts}
			}
			inv.Accounts = append(inv.Accounts, all[i])
		}
		program, ok := c.programs[all[ix.ProgramIDIndex]]
		if !ok {
			continue
		}
		if perr := asProgramError(program(inv)); perr != nil {
			return perr
		}
	}
	p.Status = squads.ProposalExecuted
	p.Timestamp = c.Now().Unix()
	return c.store(state, proposalAddress, p)
}
