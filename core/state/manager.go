package state

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/minanew12/eurodollar-protocol-sub001/storage"
)

// Manager provides the typed read/write surface every ledger module uses. Writes
// are buffered in a journal until Commit flushes them to the backing database in
// a single batch, so a failed operation can be rolled back with
// RevertToSnapshot without touching persisted state.
//
// Manager is not safe for concurrent use; core.Ledger serialises access.
type Manager struct {
	db      storage.Database
	dirty   map[string]dirtyValue
	journal []journalEntry
}

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key    string
	prev   dirtyValue
	wasSet bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]dirtyValue)}
}

var errEmptyKey = errors.New("kv: key must not be empty")

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) set(hashed []byte, value []byte, deleted bool) {
	key := string(hashed)
	prev, wasSet := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, wasSet: wasSet})
	m.dirty[key] = dirtyValue{value: append([]byte(nil), value...), deleted: deleted}
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write recorded after the supplied snapshot.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.wasSet {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Atomic runs fn and reverts all of its writes when it returns an error.
func (m *Manager) Atomic(fn func() error) error {
	id := m.Snapshot()
	if err := fn(); err != nil {
		m.RevertToSnapshot(id)
		return err
	}
	return nil
}

// Pending reports the number of buffered keys awaiting Commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit flushes all buffered writes to the database in one batch.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	batch := m.db.NewBatch()
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry := m.dirty[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]dirtyValue)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every buffered write.
func (m *Manager) Discard() {
	m.dirty = make(map[string]dirtyValue)
	m.journal = m.journal[:0]
}

// KVPut RLP-encodes value under keccak256(key).
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode: %w", err)
	}
	m.set(kvKey(key), encoded, false)
	return nil
}

// KVGet decodes the value under key into out and reports whether it was set.
// A nil out only probes for presence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, err := m.get(kvKey(key))
	if err != nil || len(data) == 0 {
		return false, err
	}
	if out != nil {
		if err := rlp.DecodeBytes(data, out); err != nil {
			return false, fmt.Errorf("kv: decode: %w", err)
		}
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	m.set(kvKey(key), nil, true)
	return nil
}

func normaliseUnit(unit string) string {
	return strings.ToUpper(strings.TrimSpace(unit))
}

func (m *Manager) loadAmount(key []byte) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if _, err := m.KVGet(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Balance retrieves the balance of addr in the given unit. Missing entries read
// as zero.
func (m *Manager) Balance(unit string, addr common.Address) (*uint256.Int, error) {
	return m.loadAmount(balanceKey(normaliseUnit(unit), addr))
}

// SetBalance stores the balance of addr in the given unit.
func (m *Manager) SetBalance(unit string, addr common.Address, amount *uint256.Int) error {
	if normaliseUnit(unit) == "" {
		return fmt.Errorf("unit must not be empty")
	}
	if amount == nil || amount.IsZero() {
		return m.KVDelete(balanceKey(normaliseUnit(unit), addr))
	}
	return m.KVPut(balanceKey(normaliseUnit(unit), addr), amount)
}

// TotalSupply returns the outstanding supply of the unit.
func (m *Manager) TotalSupply(unit string) (*uint256.Int, error) {
	return m.loadAmount(supplyKey(normaliseUnit(unit)))
}

// SetTotalSupply stores the outstanding supply of the unit.
func (m *Manager) SetTotalSupply(unit string, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return m.KVPut(supplyKey(normaliseUnit(unit)), amount)
}

// Allowance returns how much spender may move on behalf of owner.
func (m *Manager) Allowance(unit string, owner, spender common.Address) (*uint256.Int, error) {
	return m.loadAmount(allowanceKey(normaliseUnit(unit), owner, spender))
}

// SetAllowance stores the spending authorisation of spender over owner's funds.
func (m *Manager) SetAllowance(unit string, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return m.KVDelete(allowanceKey(normaliseUnit(unit), owner, spender))
	}
	return m.KVPut(allowanceKey(normaliseUnit(unit), owner, spender), amount)
}

// SetRole adds addr to role. Members are kept sorted by address bytes.
func (m *Manager) SetRole(role string, addr common.Address) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("role must not be empty")
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return err
	}
	idx, found := slices.BinarySearchFunc(members, addr, compareAddress)
	if found {
		return nil
	}
	return m.KVPut(roleKey(role), slices.Insert(members, idx, addr))
}

// RemoveRole drops addr from role; an emptied role is deleted.
func (m *Manager) RemoveRole(role string, addr common.Address) error {
	role = strings.TrimSpace(role)
	members, err := m.RoleMembers(role)
	if err != nil {
		return err
	}
	members = slices.DeleteFunc(members, func(a common.Address) bool { return a == addr })
	if len(members) == 0 {
		return m.KVDelete(roleKey(role))
	}
	return m.KVPut(roleKey(role), members)
}

// RoleMembers lists the members of role in address order.
func (m *Manager) RoleMembers(role string) ([]common.Address, error) {
	members := []common.Address{}
	if _, err := m.KVGet(roleKey(strings.TrimSpace(role)), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole is false when the membership list cannot be read.
func (m *Manager) HasRole(role string, addr common.Address) bool {
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	_, found := slices.BinarySearchFunc(members, addr, compareAddress)
	return found
}

func compareAddress(a, b common.Address) int {
	return bytes.Compare(a[:], b[:])
}
