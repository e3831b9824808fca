package nic

// FilterTableSize is the number of entries in an interface MAC filter.
const FilterTableSize = 12

// FilterEntry is one slot of the MAC address filter. A RefCount of zero
// marks a free slot.
type FilterEntry struct {
	Addr     MacAddr `json:"addr"`
	RefCount int     `json:"ref_count"`
}

// FilterTable is the reference-counted set of MAC addresses an interface
// wants to receive in addition to its own station address.
type FilterTable struct {
	entries [FilterTableSize]FilterEntry
}

// Accept takes a reference on addr. changed reports whether the set of
// active addresses changed and the hardware filter must be reprogrammed.
func (t *FilterTable) Accept(addr MacAddr) (changed bool, err error) {
	free := -1
	for i := range t.entries {
		e := &t.entries[i]
		if e.RefCount > 0 && e.Addr == addr {
			e.RefCount++
			return false, nil
		}
		if e.RefCount == 0 && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return false, ErrFilterFull
	}
	t.entries[free] = FilterEntry{Addr: addr, RefCount: 1}
	return true, nil
}

// Drop releases a reference on addr.
func (t *FilterTable) Drop(addr MacAddr) (changed bool, err error) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.RefCount > 0 && e.Addr == addr {
			e.RefCount--
			if e.RefCount == 0 {
				e.Addr = MacAddr{}
				return true, nil
			}
			return false, nil
		}
	}
	return false, ErrNotFound
}

// Contains reports whether addr is an active entry.
func (t *FilterTable) Contains(addr MacAddr) bool {
	for _, e := range t.entries {
		if e.RefCount > 0 && e.Addr == addr {
			return true
		}
	}
	return false
}

// Active returns the active entries in table order.
func (t *FilterTable) Active() []FilterEntry {
	out := make([]FilterEntry, 0, FilterTableSize)
	for _, e := range t.entries {
		if e.RefCount > 0 {
			out = append(out, e)
		}
	}
	return out
}

// HashTable is a 64-bit multicast hash filter split over two 32-bit
// registers: bit i lives in word i/32 at position i%32.
type HashTable [2]uint32

func (h *HashTable) Set(index int) {
	h[index/32] |= 1 << uint(index%32)
}

func (h HashTable) IsSet(index int) bool {
	return h[index/32]&(1<<uint(index%32)) != 0
}

// ComputeHashTable rebuilds the multicast hash table from scratch over the
// active multicast entries.
func ComputeHashTable(entries []FilterEntry, crc CrcFunc) HashTable {
	var h HashTable
	for _, e := range entries {
		if e.RefCount == 0 || !e.Addr.IsMulticast() {
			continue
		}
		h.Set(HashIndex(crc(e.Addr[:])))
	}
	return h
}

// MacFilter is the result of a full filter recomputation for a MAC that has
// a few perfect-match address registers and a hash table for the rest.
type MacFilter struct {
	Perfect       []MacAddr
	MulticastHash HashTable
	UnicastHash   HashTable
}

// ComputeMacFilter places active entries into the perfect-match slots in
// table order and hashes whatever does not fit. Unicast and multicast
// overflow use separate hash tables.
func ComputeMacFilter(entries []FilterEntry, perfectSlots int, crc CrcFunc) MacFilter {
	f := MacFilter{Perfect: make([]MacAddr, 0, perfectSlots)}
	for _, e := range entries {
		if e.RefCount == 0 {
			continue
		}
		if len(f.Perfect) < perfectSlots {
			f.Perfect = append(f.Perfect, e.Addr)
			continue
		}
		index := HashIndex(crc(e.Addr[:]))
		if e.Addr.IsMulticast() {
			f.MulticastHash.Set(index)
		} else {
			f.UnicastHash.Set(index)
		}
	}
	return f
}

// Matches reports whether addr passes the perfect-match slots or the hash
// table of its address class.
func (f MacFilter) Matches(addr MacAddr, crc CrcFunc) bool {
	for _, p := range f.Perfect {
		if p == addr {
			return true
		}
	}
	index := HashIndex(crc(addr[:]))
	if addr.IsMulticast() {
		return f.MulticastHash.IsSet(index)
	}
	return f.UnicastHash.IsSet(index)
}
