package squads

import (
	"bytes"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"golang.org/x/exp/slices"
)

// TransactionMessage is the instruction bundle a vault transaction executes. Account keys are
// ordered writable signers, readonly signers, writable non-signers, readonly non-signers; the
// first key is the vault acting as payer.
type TransactionMessage struct {
	NumSigners            uint8
	NumWritableSigners    uint8
	NumWritableNonSigners uint8
	AccountKeys           []solana.PublicKey
	Instructions          []CompiledInstruction
	AddressTableLookups   []AddressTableLookup
}

type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

type AddressTableLookup struct {
	AccountKey      solana.PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// IsStaticWritableIndex reports whether the static account key at index i is writable.
func (m *TransactionMessage) IsStaticWritableIndex(i int) bool {
	if i < 0 || i >= len(m.AccountKeys) {
		return false
	}
	if i < int(m.NumWritableSigners) {
		return true
	}
	if i >= int(m.NumSigners) {
		return i-int(m.NumSigners) < int(m.NumWritableNonSigners)
	}
	return false
}

// MarshalCompact serializes the message in the compact form accepted by vault_transaction_create:
// u8-prefixed arrays everywhere except instruction data, which is u16-prefixed.
func (m *TransactionMessage) MarshalCompact() ([]byte, error) {
	if len(m.AccountKeys) > math.MaxUint8 || len(m.Instructions) > math.MaxUint8 || len(m.AddressTableLookups) > math.MaxUint8 {
		return nil, errors.New("message exceeds compact array limits")
	}
	e := newEncoder()
	e.u8(m.NumSigners)
	e.u8(m.NumWritableSigners)
	e.u8(m.NumWritableNonSigners)
	e.u8(uint8(len(m.AccountKeys)))
	for _, k := range m.AccountKeys {
		e.key(k)
	}
	e.u8(uint8(len(m.Instructions)))
	for _, ix := range m.Instructions {
		if len(ix.AccountIndexes) > math.MaxUint8 || len(ix.Data) > math.MaxUint16 {
			return nil, errors.New("instruction exceeds compact array limits")
		}
		e.u8(ix.ProgramIDIndex)
		e.u8(uint8(len(ix.AccountIndexes)))
		e.raw(ix.AccountIndexes)
		e.u16(uint16(len(ix.Data)))
		e.raw(ix.Data)
	}
	e.u8(uint8(len(m.AddressTableLookups)))
	for _, l := range m.AddressTableLookups {
		e.key(l.AccountKey)
		e.u8(uint8(len(l.WritableIndexes)))
		e.raw(l.WritableIndexes)
		e.u8(uint8(len(l.ReadonlyIndexes)))
		e.raw(l.ReadonlyIndexes)
	}
	return e.bytes()
}

func ParseCompactMessage(data []byte) (*TransactionMessage, error) {
	d := newDecoder(data)
	m := TransactionMessage{
		NumSigners:            d.u8(),
		NumWritableSigners:    d.u8(),
		NumWritableNonSigners: d.u8(),
	}
	numKeys := int(d.u8())
	for i := 0; i < numKeys && d.err == nil; i++ {
		m.AccountKeys = append(m.AccountKeys, d.key())
	}
	numIxs := int(d.u8())
	for i := 0; i < numIxs && d.err == nil; i++ {
		ix := CompiledInstruction{ProgramIDIndex: d.u8()}
		ix.AccountIndexes = cloneBytes(d.raw(int(d.u8())))
		ix.Data = cloneBytes(d.raw(int(d.u16())))
		m.Instructions = append(m.Instructions, ix)
	}
	numLookups := int(d.u8())
	for i := 0; i < numLookups && d.err == nil; i++ {
		l := AddressTableLookup{AccountKey: d.key()}
		l.WritableIndexes = cloneBytes(d.raw(int(d.u8())))
		l.ReadonlyIndexes = cloneBytes(d.raw(int(d.u8())))
		m.AddressTableLookups = append(m.AddressTableLookups, l)
	}
	if d.err != nil {
		return nil, errors.Wrap(d.err, "parse compact message")
	}
	if d.remaining() != 0 {
		return nil, errors.Errorf("parse compact message: %d trailing bytes", d.remaining())
	}
	return &m, nil
}

func indexOf(keys solana.PublicKeySlice, key solana.PublicKey) int {
	for i, k := range keys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// encodeStoredMessage writes the borsh layout the program keeps inside a VaultTransaction account.
func encodeStoredMessage(e *encoder, m *TransactionMessage) {
	e.u8(m.NumSigners)
	e.u8(m.NumWritableSigners)
	e.u8(m.NumWritableNonSigners)
	e.keys(m.AccountKeys)
	e.u32(uint32(len(m.Instructions)))
	for _, ix := range m.Instructions {
		e.u8(ix.ProgramIDIndex)
		e.vecU8(ix.AccountIndexes)
		e.vecU8(ix.Data)
	}
	e.u32(uint32(len(m.AddressTableLookups)))
	for _, l := range m.AddressTableLookups {
		e.key(l.AccountKey)
		e.vecU8(l.WritableIndexes)
		e.vecU8(l.ReadonlyIndexes)
	}
}

func decodeStoredMessage(d *decoder) TransactionMessage {
	m := TransactionMessage{
		NumSigners:            d.u8(),
		NumWritableSigners:    d.u8(),
		NumWritableNonSigners: d.u8(),
		AccountKeys:           d.keys(),
	}
	numIxs := int(d.u32())
	for i := 0; i < numIxs && d.err == nil; i++ {
		m.Instructions = append(m.Instructions, CompiledInstruction{
			ProgramIDIndex: d.u8(),
			AccountIndexes: d.vecU8(),
			Data:           d.vecU8(),
		})
	}
	numLookups := int(d.u32())
	for i := 0; i < numLookups && d.err == nil; i++ {
		m.AddressTableLookups = append(m.AddressTableLookups, AddressTableLookup{
			AccountKey:      d.key(),
			WritableIndexes: d.vecU8(),
			ReadonlyIndexes: d.vecU8(),
		})
	}
	return m
}

type compiledKey struct {
	key      solana.PublicKey
	signer   bool
	writable bool
	invoked  bool
}

// CompileMessage compiles instructions into a vault transaction message paid by payer (the vault).
// Non-signer accounts that are not invoked programs are moved into address lookups when one of the
// given tables contains them.
func CompileMessage(payer solana.PublicKey, instructions []solana.Instruction, tables map[solana.PublicKey]solana.PublicKeySlice) (*TransactionMessage, error) {
	if len(instructions) == 0 {
		return nil, errors.New("no instructions to compile")
	}
	var ordered []*compiledKey
	byKey := map[solana.PublicKey]*compiledKey{}
	add := func(key solana.PublicKey) *compiledKey {
		if ck, ok := byKey[key]; ok {
			return ck
		}
		ck := &compiledKey{key: key}
		byKey[key] = ck
		ordered = append(ordered, ck)
		return ck
	}
	payerKey := add(payer)
	payerKey.signer, payerKey.writable = true, true

	type rawInstruction struct {
		program  solana.PublicKey
		accounts []solana.PublicKey
		data     []byte
	}
	raws := make([]rawInstruction, 0, len(instructions))
	for _, ix := range instructions {
		data, err := ix.Data()
		if err != nil {
			return nil, errors.Wrap(err, "instruction data")
		}
		raw := rawInstruction{program: ix.ProgramID(), data: data}
		for _, meta := range ix.Accounts() {
			ck := add(meta.PublicKey)
			ck.signer = ck.signer || meta.IsSigner
			ck.writable = ck.writable || meta.IsWritable
			raw.accounts = append(raw.accounts, meta.PublicKey)
		}
		add(raw.program).invoked = true
		raws = append(raws, raw)
	}

	tableKeys := make([]solana.PublicKey, 0, len(tables))
	for k := range tables {
		tableKeys = append(tableKeys, k)
	}
	// tables are tried in address order so the compiled message is deterministic
	slices.SortFunc(tableKeys, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })

	type lookupBuilder struct {
		table    solana.PublicKey
		writable []solana.PublicKey
		readonly []solana.PublicKey
		lookup   AddressTableLookup
	}
	lookups := make([]*lookupBuilder, 0, len(tableKeys))
	for _, t := range tableKeys {
		lookups = append(lookups, &lookupBuilder{table: t, lookup: AddressTableLookup{AccountKey: t}})
	}
	loaded := map[solana.PublicKey]bool{}
	for _, ck := range ordered {
		if ck.signer || ck.invoked {
			continue
		}
		for _, lb := range lookups {
			pos := indexOf(tables[lb.table], ck.key)
			if pos < 0 || pos > math.MaxUint8 {
				continue
			}
			if ck.writable {
				lb.writable = append(lb.writable, ck.key)
				lb.lookup.WritableIndexes = append(lb.lookup.WritableIndexes, uint8(pos))
			} else {
				lb.readonly = append(lb.readonly, ck.key)
				lb.lookup.ReadonlyIndexes = append(lb.lookup.ReadonlyIndexes, uint8(pos))
			}
			loaded[ck.key] = true
			break
		}
	}

	var writableSigners, readonlySigners, writableNonSigners, readonlyNonSigners []solana.PublicKey
	for _, ck := range ordered {
		if loaded[ck.key] {
			continue
		}
		switch {
		case ck.signer && ck.writable:
			writableSigners = append(writableSigners, ck.key)
		case ck.signer:
			readonlySigners = append(readonlySigners, ck.key)
		case ck.writable:
			writableNonSigners = append(writableNonSigners, ck.key)
		default:
			readonlyNonSigners = append(readonlyNonSigners, ck.key)
		}
	}
	static := make([]solana.PublicKey, 0, len(ordered))
	static = append(static, writableSigners...)
	static = append(static, readonlySigners...)
	static = append(static, writableNonSigners...)
	static = append(static, readonlyNonSigners...)

	all := append([]solana.PublicKey{}, static...)
	msg := &TransactionMessage{
		NumSigners:            uint8(len(writableSigners) + len(readonlySigners)),
		NumWritableSigners:    uint8(len(writableSigners)),
		NumWritableNonSigners: uint8(len(writableNonSigners)),
		AccountKeys:           static,
	}
	for _, lb := range lookups {
		all = append(all, lb.writable...)
	}
	for _, lb := range lookups {
		all = append(all, lb.readonly...)
		if len(lb.lookup.WritableIndexes)+len(lb.lookup.ReadonlyIndexes) > 0 {
			msg.AddressTableLookups = append(msg.AddressTableLookups, lb.lookup)
		}
	}
	if len(all) > math.MaxUint8 {
		return nil, errors.Errorf("message references %d accounts", len(all))
	}
	index := make(map[solana.PublicKey]uint8, len(all))
	for i, k := range all {
		index[k] = uint8(i)
	}
	for _, raw := range raws {
		ix := CompiledInstruction{
			ProgramIDIndex: index[raw.program],
			AccountIndexes: make([]uint8, 0, len(raw.accounts)),
			Data:           raw.data,
		}
		for _, a := range raw.accounts {
			ix.AccountIndexes = append(ix.AccountIndexes, index[a])
		}
		msg.Instructions = append(msg.Instructions, ix)
	}
	return msg, nil
}

// LoadedAddresses returns the accounts a message loads from lookup tables, writable ones first,
// in the order the compiled instruction indexes refer to them.
func (m *TransactionMessage) LoadedAddresses(tables map[solana.PublicKey]solana.PublicKeySlice) (writable, readonly []solana.PublicKey, err error) {
	for _, l := range m.AddressTableLookups {
		table, ok := tables[l.AccountKey]
		if !ok {
			return nil, nil, errors.Errorf("lookup table %s is not resolved", l.AccountKey)
		}
		for _, i := range l.WritableIndexes {
			if int(i) >= len(table) {
				return nil, nil, errors.Errorf("lookup table %s has no index %d", l.AccountKey, i)
			}
			writable = append(writable, table[i])
		}
		for _, i := range l.ReadonlyIndexes {
			if int(i) >= len(table) {
				return nil, nil, errors.Errorf("lookup table %s has no index %d", l.AccountKey, i)
			}
			readonly = append(readonly, table[i])
		}
	}
	return writable, readonly, nil
}
