package squads

import (
	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"

	"github.com/argus-wallet/argus/pkg/core"
)

var (
	multisigDiscriminator         = accountDiscriminator("Multisig")
	programConfigDiscriminator    = accountDiscriminator("ProgramConfig")
	vaultTransactionDiscriminator = accountDiscriminator("VaultTransaction")
	proposalDiscriminator         = accountDiscriminator("Proposal")
)

// Multisig is the on-chain signer set configuration.
type Multisig struct {
	CreateKey       solana.PublicKey
	ConfigAuthority solana.PublicKey
	Threshold       uint16
	TimeLock        uint32
	// TransactionIndex is the index of the last vault or config transaction created.
	TransactionIndex      uint64
	StaleTransactionIndex uint64
	RentCollector         *solana.PublicKey
	Bump                  uint8
	Members               []Member
}

// Member returns the member entry for key.
func (m *Multisig) Member(key solana.PublicKey) (Member, bool) {
	for _, member := range m.Members {
		if member.Key.Equals(key) {
			return member, true
		}
	}
	return Member{}, false
}

func DecodeMultisig(data []byte) (*Multisig, error) {
	d := newDecoder(data)
	d.discriminator(multisigDiscriminator)
	m := Multisig{
		CreateKey:             d.key(),
		ConfigAuthority:       d.key(),
		Threshold:             d.u16(),
		TimeLock:              d.u32(),
		TransactionIndex:      d.u64(),
		StaleTransactionIndex: d.u64(),
		RentCollector:         d.optKey(),
		Bump:                  d.u8(),
	}
	n := int(d.u32())
	for i := 0; i < n && d.err == nil; i++ {
		m.Members = append(m.Members, Member{Key: d.key(), Permissions: d.u8()})
	}
	if d.err != nil {
		return nil, errors.Wrap(d.err, "decode multisig")
	}
	return &m, nil
}

func (m *Multisig) MarshalBinary() ([]byte, error) {
	e := newEncoder()
	e.raw(multisigDiscriminator[:])
	e.key(m.CreateKey)
	e.key(m.ConfigAuthority)
	e.u16(m.Threshold)
	e.u32(m.TimeLock)
	e.u64(m.TransactionIndex)
	e.u64(m.StaleTransactionIndex)
	e.optKey(m.RentCollector)
	e.u8(m.Bump)
	e.u32(uint32(len(m.Members)))
	for _, member := range m.Members {
		e.key(member.Key)
		e.u8(member.Permissions)
	}
	return e.bytes()
}

type ProgramConfig struct {
	Authority           solana.PublicKey
	MultisigCreationFee uint64
	Treasury            solana.PublicKey
}

func DecodeProgramConfig(data []byte) (*ProgramConfig, error) {
	d := newDecoder(data)
	d.discriminator(programConfigDiscriminator)
	cfg := ProgramConfig{
		Authority:           d.key(),
		MultisigCreationFee: d.u64(),
		Treasury:            d.key(),
	}
	if d.err != nil {
		return nil, errors.Wrap(d.err, "decode program config")
	}
	return &cfg, nil
}

func (c *ProgramConfig) MarshalBinary() ([]byte, error) {
	e := newEncoder()
	e.raw(programConfigDiscriminator[:])
	e.key(c.Authority)
	e.u64(c.MultisigCreationFee)
	e.key(c.Treasury)
	e.raw(make([]byte, 64))
	return e.bytes()
}

// VaultTransaction is a stored instruction bundle waiting for its proposal to be approved.
type VaultTransaction struct {
	Multisig             solana.PublicKey
	Creator              solana.PublicKey
	Index                uint64
	Bump                 uint8
	VaultIndex           uint8
	VaultBump            uint8
	EphemeralSignerBumps []uint8
	Message              TransactionMessage
}

func DecodeVaultTransaction(data []byte) (*VaultTransaction, error) {
	d := newDecoder(data)
	d.discriminator(vaultTransactionDiscriminator)
	tx := VaultTransaction{
		Multisig:             d.key(),
		Creator:              d.key(),
		Index:                d.u64(),
		Bump:                 d.u8(),
		VaultIndex:           d.u8(),
		VaultBump:            d.u8(),
		EphemeralSignerBumps: d.vecU8(),
	}
	tx.Message = decodeStoredMessage(d)
	if d.err != nil {
		return nil, errors.Wrap(d.err, "decode vault transaction")
	}
	return &tx, nil
}

func (t *VaultTransaction) MarshalBinary() ([]byte, error) {
	e := newEncoder()
	e.raw(vaultTransactionDiscriminator[:])
	e.key(t.Multisig)
	e.key(t.Creator)
	e.u64(t.Index)
	e.u8(t.Bump)
	e.u8(t.VaultIndex)
	e.u8(t.VaultBump)
	e.vecU8(t.EphemeralSignerBumps)
	encodeStoredMessage(e, &t.Message)
	return e.bytes()
}

type ProposalStatus uint8

const (
	ProposalDraft ProposalStatus = iota
	ProposalActive
	ProposalRejected
	ProposalApproved
	ProposalExecuting
	ProposalExecuted
	ProposalCancelled
)

var proposalStatusNames = map[ProposalStatus]string{
	ProposalDraft:     "draft",
	ProposalActive:    "active",
	ProposalRejected:  "rejected",
	ProposalApproved:  "approved",
	ProposalExecuting: "executing",
	ProposalExecuted:  "executed",
	ProposalCancelled: "cancelled",
}

func (s ProposalStatus) String() string {
	if name, ok := proposalStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further votes or executions are possible.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalRejected || s == ProposalExecuted || s == ProposalCancelled
}

type Proposal struct {
	Multisig         solana.PublicKey
	TransactionIndex uint64
	Status           ProposalStatus
	// Timestamp is the unix time of the last status change, zero for Executing.
	Timestamp int64
	Bump      uint8
	Approved  []solana.PublicKey
	Rejected  []solana.PublicKey
	Cancelled []solana.PublicKey
}

func DecodeProposal(data []byte) (*Proposal, error) {
	d := newDecoder(data)
	d.discriminator(proposalDiscriminator)
	p := Proposal{
		Multisig:         d.key(),
		TransactionIndex: d.u64(),
		Status:           ProposalStatus(d.u8()),
	}
	if d.err == nil && p.Status > ProposalCancelled {
		d.fail(errors.Wrapf(core.ErrInvalidAccount, "unknown proposal status %d", p.Status))
	}
	if p.Status != ProposalExecuting {
		p.Timestamp = d.i64()
	}
	p.Bump = d.u8()
	p.Approved = d.keys()
	p.Rejected = d.keys()
	p.Cancelled = d.keys()
	if d.err != nil {
		return nil, errors.Wrap(d.err, "decode proposal")
	}
	return &p, nil
}

func (p *Proposal) MarshalBinary() ([]byte, error) {
	e := newEncoder()
	e.raw(proposalDiscriminator[:])
	e.key(p.Multisig)
	e.u64(p.TransactionIndex)
	e.u8(uint8(p.Status))
	if p.Status != ProposalExecuting {
		e.i64(p.Timestamp)
	}
	e.u8(p.Bump)
	e.keys(p.Approved)
	e.keys(p.Rejected)
	e.keys(p.Cancelled)
	return e.bytes()
}
