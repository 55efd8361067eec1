package state

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"gavel/native/auction"
	"gavel/native/common"
	"gavel/native/dispute"
	"gavel/native/escrow"
	"gavel/native/reputation"
	"gavel/native/workorder"
	"gavel/storage"
	"gavel/storage/trie"
)

var (
	workOrderPrefix  = []byte("workorder/")
	escrowPrefix     = []byte("escrow/")
	auctionPrefix    = []byte("auction/")
	disputePrefix    = []byte("dispute/")
	reputationPrefix = []byte("reputation/")
	balancePrefix    = []byte("balance/")
	vaultPrefix      = []byte("vault/")
	assetPrefix      = []byte("asset/")
	pausePrefix      = []byte("pause/")
	indexPrefix      = []byte("index/")

	// rootKey addresses the latest committed trie root in the raw store,
	// outside the trie itself.
	rootKey = []byte("gavel/state-root")
)

func prefixKey(prefix []byte, parts ...[]byte) []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, prefix...)
	for _, part := range parts {
		payload = append(payload, part...)
	}
	return ethcrypto.Keccak256(payload)
}

// storedRoot is the raw-KV bookmark that lets a restarted node reopen the
// trie where the last commit left it.
type storedRoot struct {
	Root   []byte
	Height uint64
}

// Manager owns every persisted record of the settlement system. Records live
// in a Merkle Patricia trie under keccak-hashed prefix keys with RLP
// payloads; every mutating operation commits the trie and bookmarks the new
// root, so the full state is summarised by a single verifiable hash. A
// process-wide mutex serialises access, the trie is not safe for concurrent
// use.
type Manager struct {
	mu     sync.Mutex
	db     storage.Database
	tr     *trie.Trie
	height uint64
}

// NewManager opens the state trie over the database, resuming from the last
// committed root when one is bookmarked.
func NewManager(db storage.Database) (*Manager, error) {
	var bookmark storedRoot
	raw, err := db.Get(rootKey)
	switch {
	case err == nil:
		if err := rlp.DecodeBytes(raw, &bookmark); err != nil {
			return nil, fmt.Errorf("state: decode root bookmark: %w", err)
		}
	case err == storage.ErrKeyNotFound:
		// Fresh database, open the empty trie.
	default:
		return nil, err
	}
	tr, err := trie.NewTrie(db, bookmark.Root)
	if err != nil {
		return nil, fmt.Errorf("state: open trie: %w", err)
	}
	return &Manager{db: db, tr: tr, height: bookmark.Height}, nil
}

// Root returns the root hash of the last committed state.
func (m *Manager) Root() gethcommon.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr.Root()
}

// mutate runs fn under the lock and commits the trie afterwards. When fn
// fails the trie is reset to the prior root so partial writes never leak
// into a later commit.
func (m *Manager) mutate(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior := m.tr.Root()
	if err := fn(); err != nil {
		if resetErr := m.tr.Reset(prior); resetErr != nil {
			return fmt.Errorf("state: rollback to %x: %v (after: %w)", prior, resetErr, err)
		}
		return err
	}
	root, err := m.tr.Commit(prior, m.height+1)
	if err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.height++
	encoded, err := rlp.EncodeToBytes(&storedRoot{Root: root.Bytes(), Height: m.height})
	if err != nil {
		return fmt.Errorf("state: encode root bookmark: %w", err)
	}
	return m.db.Put(rootKey, encoded)
}

// kvPut writes the RLP encoding of value into the trie. Callers hold the
// lock.
func (m *Manager) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return m.tr.Update(key, encoded)
}

// kvGet decodes the stored value into out, reporting presence. Callers hold
// the lock.
func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	raw, err := m.tr.Get(key)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

// kvAppend adds the id to the list stored under key, deduplicating. Callers
// hold the lock.
func (m *Manager) kvAppend(key []byte, id [32]byte) error {
	var list [][32]byte
	if _, err := m.kvGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if existing == id {
			return nil
		}
	}
	list = append(list, id)
	return m.kvPut(key, list)
}

func (m *Manager) kvGetList(key []byte) ([][32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list [][32]byte
	if _, err := m.kvGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- balances ---

func balanceKey(addr [20]byte, token string) []byte {
	return prefixKey(balancePrefix, addr[:], []byte(token))
}

// balance assumes the lock is held.
func (m *Manager) balance(addr [20]byte, token string) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.kvGet(balanceKey(addr, token), value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// Balance returns the free balance of the address in the given token. Unknown
// accounts hold zero.
func (m *Manager) Balance(addr [20]byte, token string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(addr, token)
}

// SetBalance overwrites the free balance of the address in the given token.
func (m *Manager) SetBalance(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return m.mutate(func() error {
		return m.kvPut(balanceKey(addr, token), amount)
	})
}

// Mint credits freshly issued tokens to the address. Exposed for genesis
// style funding and tests.
func (m *Manager) Mint(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	return m.mutate(func() error {
		current, err := m.balance(addr, token)
		if err != nil {
			return err
		}
		return m.kvPut(balanceKey(addr, token), new(big.Int).Add(current, amount))
	})
}

// --- escrow vault ledger ---

// EscrowVaultAddress derives the deterministic custody address for a token.
// Value held by escrows lives on this address between funding and payout.
func (m *Manager) EscrowVaultAddress(token string) ([20]byte, error) {
	normalized, err := common.NormalizeAsset(token)
	if err != nil {
		return [20]byte{}, err
	}
	digest := ethcrypto.Keccak256([]byte("escrow-vault:" + normalized))
	var addr [20]byte
	copy(addr[:], digest[:20])
	return addr, nil
}

func vaultKey(id [32]byte, token string) []byte {
	return prefixKey(vaultPrefix, id[:], []byte(token))
}

// EscrowCredit books value into the per-escrow custody ledger.
func (m *Manager) EscrowCredit(id [32]byte, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: credit must be non-negative")
	}
	return m.mutate(func() error {
		current := new(big.Int)
		if _, err := m.kvGet(vaultKey(id, token), current); err != nil {
			return err
		}
		return m.kvPut(vaultKey(id, token), new(big.Int).Add(current, amt))
	})
}

// EscrowDebit books value out of the per-escrow custody ledger. Debiting more
// than is held fails without touching the record.
func (m *Manager) EscrowDebit(id [32]byte, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: debit must be non-negative")
	}
	return m.mutate(func() error {
		current := new(big.Int)
		if _, err := m.kvGet(vaultKey(id, token), current); err != nil {
			return err
		}
		if current.Cmp(amt) < 0 {
			return fmt.Errorf("state: vault holds %s, cannot debit %s", current, amt)
		}
		return m.kvPut(vaultKey(id, token), new(big.Int).Sub(current, amt))
	})
}

// EscrowVaultBalance reports the value currently booked to the escrow.
func (m *Manager) EscrowVaultBalance(id [32]byte, token string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := new(big.Int)
	if _, err := m.kvGet(vaultKey(id, token), current); err != nil {
		return nil, err
	}
	return current, nil
}

// --- work orders ---

func (m *Manager) WorkOrderPut(o *workorder.WorkOrder) error {
	if o == nil {
		return fmt.Errorf("state: nil work order")
	}
	return m.mutate(func() error {
		if err := m.kvPut(prefixKey(workOrderPrefix, o.ID[:]), toStoredWorkOrder(o)); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("workorders")), o.ID); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("workorders/party/"), o.Requester[:]), o.ID); err != nil {
			return err
		}
		if o.Provider != ([20]byte{}) {
			return m.kvAppend(prefixKey(indexPrefix, []byte("workorders/party/"), o.Provider[:]), o.ID)
		}
		return nil
	})
}

func (m *Manager) WorkOrderGet(id [32]byte) (*workorder.WorkOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := new(storedWorkOrder)
	ok, err := m.kvGet(prefixKey(workOrderPrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toWorkOrder(), true
}

// WorkOrderIDs lists every persisted work order identifier in insertion
// order.
func (m *Manager) WorkOrderIDs() ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("workorders")))
}

// WorkOrderIDsByParty lists the work orders a participant appears on as
// requester or provider.
func (m *Manager) WorkOrderIDsByParty(addr [20]byte) ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("workorders/party/"), addr[:]))
}

// --- escrows ---

func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	if e == nil {
		return fmt.Errorf("state: nil escrow")
	}
	return m.mutate(func() error {
		if err := m.kvPut(prefixKey(escrowPrefix, e.ID[:]), toStoredEscrow(e)); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("escrows")), e.ID); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("escrows/party/"), e.Depositor[:]), e.ID); err != nil {
			return err
		}
		return m.kvAppend(prefixKey(indexPrefix, []byte("escrows/party/"), e.Recipient[:]), e.ID)
	})
}

func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := new(storedEscrow)
	ok, err := m.kvGet(prefixKey(escrowPrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toEscrow(), true
}

// EscrowIDs lists every persisted escrow identifier in insertion order.
func (m *Manager) EscrowIDs() ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("escrows")))
}

// EscrowIDsByParty lists the escrows an address appears on as depositor or
// recipient.
func (m *Manager) EscrowIDsByParty(addr [20]byte) ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("escrows/party/"), addr[:]))
}

// --- auctions ---

func (m *Manager) AuctionPut(a *auction.Auction) error {
	if a == nil {
		return fmt.Errorf("state: nil auction")
	}
	return m.mutate(func() error {
		if err := m.kvPut(prefixKey(auctionPrefix, a.ID[:]), toStoredAuction(a)); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("auctions")), a.ID); err != nil {
			return err
		}
		return m.kvAppend(prefixKey(indexPrefix, []byte("auctions/owner/"), a.Owner[:]), a.ID)
	})
}

func (m *Manager) AuctionGet(id [32]byte) (*auction.Auction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := new(storedAuction)
	ok, err := m.kvGet(prefixKey(auctionPrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toAuction(), true
}

// AuctionIDs lists every persisted auction identifier in insertion order.
func (m *Manager) AuctionIDs() ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("auctions")))
}

// AuctionIDsByOwner lists the auctions an address has opened.
func (m *Manager) AuctionIDsByOwner(addr [20]byte) ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("auctions/owner/"), addr[:]))
}

// --- disputes ---

func (m *Manager) DisputePut(d *dispute.Dispute) error {
	if d == nil {
		return fmt.Errorf("state: nil dispute")
	}
	return m.mutate(func() error {
		if err := m.kvPut(prefixKey(disputePrefix, d.ID[:]), toStoredDispute(d)); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("disputes")), d.ID); err != nil {
			return err
		}
		if err := m.kvAppend(prefixKey(indexPrefix, []byte("disputes/party/"), d.Filer[:]), d.ID); err != nil {
			return err
		}
		return m.kvAppend(prefixKey(indexPrefix, []byte("disputes/party/"), d.Respondent[:]), d.ID)
	})
}

func (m *Manager) DisputeGet(id [32]byte) (*dispute.Dispute, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := new(storedDispute)
	ok, err := m.kvGet(prefixKey(disputePrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toDispute(), true
}

// DisputeIDs lists every persisted dispute identifier in insertion order.
func (m *Manager) DisputeIDs() ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("disputes")))
}

// DisputeIDsByParty lists the disputes an address appears on as filer or
// respondent.
func (m *Manager) DisputeIDsByParty(addr [20]byte) ([][32]byte, error) {
	return m.kvGetList(prefixKey(indexPrefix, []byte("disputes/party/"), addr[:]))
}

// --- reputation ---

func (m *Manager) ReputationPut(s *reputation.Score) error {
	if s == nil {
		return fmt.Errorf("state: nil score")
	}
	return m.mutate(func() error {
		return m.kvPut(prefixKey(reputationPrefix, s.Subject[:]), toStoredScore(s))
	})
}

func (m *Manager) ReputationGet(subject [20]byte) (*reputation.Score, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := new(storedScore)
	ok, err := m.kvGet(prefixKey(reputationPrefix, subject[:]), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toScore(), true
}

// --- asset registry ---

// RegisterAsset records a token symbol as known to the system. Registration
// is idempotent.
func (m *Manager) RegisterAsset(symbol string) error {
	normalized, err := common.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	return m.mutate(func() error {
		var list []string
		if _, err := m.kvGet(prefixKey(assetPrefix, []byte("registry")), &list); err != nil {
			return err
		}
		for _, existing := range list {
			if existing == normalized {
				return nil
			}
		}
		list = append(list, normalized)
		return m.kvPut(prefixKey(assetPrefix, []byte("registry")), list)
	})
}

// Assets lists the registered token symbols.
func (m *Manager) Assets() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []string
	if _, err := m.kvGet(prefixKey(assetPrefix, []byte("registry")), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- pause registry ---

// SetPaused freezes or unfreezes a named engine module.
func (m *Manager) SetPaused(module string, paused bool) error {
	module = strings.ToLower(strings.TrimSpace(module))
	if module == "" {
		return fmt.Errorf("state: module name required")
	}
	return m.mutate(func() error {
		return m.kvPut(prefixKey(pausePrefix, []byte(module)), paused)
	})
}

// IsPaused implements the pause view consulted by the engines. Lookup errors
// read as not paused; a broken pause registry must not halt settlement.
func (m *Manager) IsPaused(module string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paused bool
	ok, err := m.kvGet(prefixKey(pausePrefix, []byte(strings.ToLower(module))), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}
