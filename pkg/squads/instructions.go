package squads

import (
	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
)

var (
	ixMultisigCreateV2        = instructionDiscriminator("multisig_create_v2")
	ixVaultTransactionCreate  = instructionDiscriminator("vault_transaction_create")
	ixProposalCreate          = instructionDiscriminator("proposal_create")
	ixProposalApprove         = instructionDiscriminator("proposal_approve")
	ixVaultTransactionExecute = instructionDiscriminator("vault_transaction_execute")
)

// InstructionKind names a decoded Squads instruction.
type InstructionKind string

const (
	KindMultisigCreate          InstructionKind = "multisig_create_v2"
	KindVaultTransactionCreate  InstructionKind = "vault_transaction_create"
	KindProposalCreate          InstructionKind = "proposal_create"
	KindProposalApprove         InstructionKind = "proposal_approve"
	KindVaultTransactionExecute InstructionKind = "vault_transaction_execute"
	KindUnknown                 InstructionKind = "unknown"
)

var kindsByDiscriminator = map[discriminator]InstructionKind{
	ixMultisigCreateV2:        KindMultisigCreate,
	ixVaultTransactionCreate:  KindVaultTransactionCreate,
	ixProposalCreate:          KindProposalCreate,
	ixProposalApprove:         KindProposalApprove,
	ixVaultTransactionExecute: KindVaultTransactionExecute,
}

// Kind identifies a Squads instruction by its 8-byte discriminator.
func Kind(data []byte) InstructionKind {
	if len(data) < 8 {
		return KindUnknown
	}
	var d discriminator
	copy(d[:], data[:8])
	if kind, ok := kindsByDiscriminator[d]; ok {
		return kind
	}
	return KindUnknown
}

type MultisigCreateArgs struct {
	ConfigAuthority *solana.PublicKey
	Threshold       uint16
	Members         []Member
	TimeLock        uint32
	RentCollector   *solana.PublicKey
	Memo            *string
}

type MultisigCreateAccounts struct {
	ProgramConfig solana.PublicKey
	Treasury      solana.PublicKey
	Multisig      solana.PublicKey
	CreateKey     solana.PublicKey
	Creator       solana.PublicKey
}

func NewMultisigCreateInstruction(programID solana.PublicKey, args MultisigCreateArgs, accounts MultisigCreateAccounts) (solana.Instruction, error) {
	e := newEncoder()
	e.raw(ixMultisigCreateV2[:])
	e.optKey(args.ConfigAuthority)
	e.u16(args.Threshold)
	e.u32(uint32(len(args.Members)))
	for _, m := range args.Members {
		e.key(m.Key)
		e.u8(m.Permissions)
	}
	e.u32(args.TimeLock)
	e.optKey(args.RentCollector)
	e.optString(args.Memo)
	data, err := e.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.ProgramConfig),
		solana.Meta(accounts.Treasury).WRITE(),
		solana.Meta(accounts.Multisig).WRITE(),
		solana.Meta(accounts.CreateKey).SIGNER(),
		solana.Meta(accounts.Creator).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

func DecodeMultisigCreateArgs(data []byte) (*MultisigCreateArgs, error) {
	d := newDecoder(data)
	d.discriminator(ixMultisigCreateV2)
	args := MultisigCreateArgs{
		ConfigAuthority: d.optKey(),
		Threshold:       d.u16(),
	}
	n := int(d.u32())
	for i := 0; i < n && d.err == nil; i++ {
		args.Members = append(args.Members, Member{Key: d.key(), Permissions: d.u8()})
	}
	args.TimeLock = d.u32()
	args.RentCollector = d.optKey()
	args.Memo = d.optString()
	if d.err != nil {
		return nil, errors.Wrap(d.err, "decode multisig_create_v2")
	}
	return &args, nil
}

type VaultTransactionCreateArgs struct {
	VaultIndex       uint8
	EphemeralSigners uint8
	// TransactionMessage is a compact serialized TransactionMessage.
	TransactionMessage []byte
	Memo               *string
}

type VaultTransactionCreateAccounts struct {
	Multisig    solana.PublicKey
	Transaction solana.PublicKey
	Creator     solana.PublicKey
	RentPayer   solana.PublicKey
}

func NewVaultTransactionCreateInstruction(programID solana.PublicKey, args VaultTransactionCreateArgs, accounts VaultTransactionCreateAccounts) (solana.Instruction, error) {
	e := newEncoder()
	e.raw(ixVaultTransactionCreate[:])
	e.u8(args.VaultIndex)
	e.u8(args.EphemeralSigners)
	e.vecU8(args.TransactionMessage)
	e.optString(args.Memo)
	data, err := e.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Multisig).WRITE(),
		solana.Meta(accounts.Transaction).WRITE(),
		solana.Meta(accounts.Creator).SIGNER(),
		solana.Meta(accounts.RentPayer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

func DecodeVaultTransactionCreateArgs(data []byte) (*VaultTransactionCreateArgs, error) {
	d := newDecoder(data)
	d.discriminator(ixVaultTransactionCreate)
	args := VaultTransactionCreateArgs{
		VaultIndex:         d.u8(),
		EphemeralSigners:   d.u8(),
		TransactionMessage: d.vecU8(),
		Memo:               d.optString(),
	}
	if d.err != nil {
		return nil, errors.Wrap(d.err, "decode vault_transaction_create")
	}
	return &args, nil
}

type ProposalCreateAccounts struct {
	Multisig  solana.PublicKey
	Proposal  solana.PublicKey
	Creator   solana.PublicKey
	RentPayer solana.PublicKey
}

func NewProposalCreateInstruction(programID solana.PublicKey, transactionIndex uint64, draft bool, accounts ProposalCreateAccounts) (solana.Instruction, error) {
	e := newEncoder()
	e.raw(ixProposalCreate[:])
	e.u64(transactionIndex)
	e.boolean(draft)
	data, err := e.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Multisig),
		solana.Meta(accounts.Proposal).WRITE(),
		solana.Meta(accounts.Creator).SIGNER(),
		solana.Meta(accounts.RentPayer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// DecodeProposalCreateArgs returns the transaction index and draft flag.
func DecodeProposalCreateArgs(data []byte) (uint64, bool, error) {
	d := newDecoder(data)
	d.discriminator(ixProposalCreate)
	index := d.u64()
	draft := d.boolean()
	if d.err != nil {
		return 0, false, errors.Wrap(d.err, "decode proposal_create")
	}
	return index, draft, nil
}

func NewProposalApproveInstruction(programID, multisig, proposal, member solana.PublicKey, memo *string) (solana.Instruction, error) {
	e := newEncoder()
	e.raw(ixProposalApprove[:])
	e.optString(memo)
	data, err := e.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(multisig),
		solana.Meta(member).WRITE().SIGNER(),
		solana.Meta(proposal).WRITE(),
	}, data), nil
}

type VaultTransactionExecuteAccounts struct {
	Multisig    solana.PublicKey
	Proposal    solana.PublicKey
	Transaction solana.PublicKey
	Member      solana.PublicKey
}

// NewVaultTransactionExecuteInstruction builds the execute instruction. Remaining accounts are, in
// order: lookup table accounts, static message keys, then the addresses loaded from the tables
// (writable first).
func NewVaultTransactionExecuteInstruction(programID solana.PublicKey, accounts VaultTransactionExecuteAccounts, message *TransactionMessage, tables map[solana.PublicKey]solana.PublicKeySlice) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Multisig),
		solana.Meta(accounts.Proposal).WRITE(),
		solana.Meta(accounts.Transaction),
		solana.Meta(accounts.Member).SIGNER(),
	}
	for _, l := range message.AddressTableLookups {
		metas = append(metas, solana.Meta(l.AccountKey))
	}
	for i, key := range message.AccountKeys {
		meta := solana.Meta(key)
		if message.IsStaticWritableIndex(i) {
			meta = meta.WRITE()
		}
		metas = append(metas, meta)
	}
	writable, readonly, err := message.LoadedAddresses(tables)
	if err != nil {
		return nil, err
	}
	for _, key := range writable {
		metas = append(metas, solana.Meta(key).WRITE())
	}
	for _, key := range readonly {
		metas = append(metas, solana.Meta(key))
	}
	data := make([]byte, 8)
	copy(data, ixVaultTransactionExecute[:])
	return solana.NewInstruction(programID, metas, data), nil
}
