package application

import (
	"sync"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

// watch is the record of a subscribed scripthash. history holds the height of
// every tx known for the scripthash so that push notifications can be
// reconciled with what changed.
type watch struct {
	descriptor string
	address    string
	path       string
	history    map[string]int64
}

// addressManager keeps the set of watched scripthashes, at most one watch per
// scripthash, indexed also by descriptor.
type addressManager struct {
	watches      map[string]*watch
	byDescriptor map[string]map[string]struct{}
	lock         *sync.RWMutex
}

func newAddressManager() *addressManager {
	return &addressManager{
		watches:      make(map[string]*watch),
		byDescriptor: make(map[string]map[string]struct{}),
		lock:         &sync.RWMutex{},
	}
}

// add watches the given addresses of the descriptor and returns the
// scripthashes not watched before.
func (m *addressManager) add(
	descriptor string, addresses domain.AddressesInfo,
) []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	added := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if _, ok := m.watches[addr.ScriptHash]; ok {
			continue
		}

		history := make(map[string]int64, len(addr.History))
		for _, entry := range addr.History {
			history[entry.TxHash] = entry.Height
		}
		m.watches[addr.ScriptHash] = &watch{
			descriptor: descriptor,
			address:    addr.Address,
			path:       addr.DerivationPath,
			history:    history,
		}
		if _, ok := m.byDescriptor[descriptor]; !ok {
			m.byDescriptor[descriptor] = make(map[string]struct{})
		}
		m.byDescriptor[descriptor][addr.ScriptHash] = struct{}{}
		added = append(added, addr.ScriptHash)
	}
	return added
}

// remove stops watching the given scripthashes and returns those that were
// actually watched.
func (m *addressManager) remove(scriptHashes []string) []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	removed := make([]string, 0, len(scriptHashes))
	for _, scriptHash := range scriptHashes {
		w, ok := m.watches[scriptHash]
		if !ok {
			continue
		}
		delete(m.watches, scriptHash)
		delete(m.byDescriptor[w.descriptor], scriptHash)
		if len(m.byDescriptor[w.descriptor]) <= 0 {
			delete(m.byDescriptor, w.descriptor)
		}
		removed = append(removed, scriptHash)
	}
	return removed
}

// removeDescriptor stops watching every scripthash of the given descriptor.
func (m *addressManager) removeDescriptor(descriptor string) []string {
	m.lock.RLock()
	scriptHashes := make([]string, 0, len(m.byDescriptor[descriptor]))
	for scriptHash := range m.byDescriptor[descriptor] {
		scriptHashes = append(scriptHashes, scriptHash)
	}
	m.lock.RUnlock()

	return m.remove(scriptHashes)
}

// seed sets the known history of a watched scripthash.
func (m *addressManager) seed(scriptHash string, history []domain.HistoryEntry) {
	m.lock.Lock()
	defer m.lock.Unlock()

	w, ok := m.watches[scriptHash]
	if !ok {
		return
	}
	w.history = make(map[string]int64, len(history))
	for _, entry := range history {
		w.history[entry.TxHash] = entry.Height
	}
}

// update replaces the known history of the scripthash with the given one and
// returns the txids that are new or whose height changed.
func (m *addressManager) update(
	scriptHash string, history []domain.HistoryEntry,
) []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	w, ok := m.watches[scriptHash]
	if !ok {
		return nil
	}

	changed := make([]string, 0)
	newHistory := make(map[string]int64, len(history))
	for _, entry := range history {
		newHistory[entry.TxHash] = entry.Height
		if height, ok := w.history[entry.TxHash]; !ok || height != entry.Height {
			changed = append(changed, entry.TxHash)
		}
	}
	w.history = newHistory
	return changed
}

func (m *addressManager) get(scriptHash string) (watch, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	w, ok := m.watches[scriptHash]
	if !ok {
		return watch{}, false
	}
	return *w, true
}

func (m *addressManager) count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return len(m.watches)
}

func (m *addressManager) reset() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.watches = make(map[string]*watch)
	m.byDescriptor = make(map[string]map[string]struct{})
}
