package nic

import "sync/atomic"

// DescState is the ownership tag of a DMA descriptor. DescHardware plays
// the role of the OWN bit; the other two states are software owned.
type DescState uint32

const (
	// DescFree is an empty software-owned descriptor (TX slot available).
	DescFree DescState = iota
	// DescHardware is owned by the DMA engine and must not be touched.
	DescHardware
	// DescSoftware holds a completed receive frame for software to consume.
	DescSoftware
)

func (s DescState) String() string {
	switch s {
	case DescFree:
		return "free"
	case DescHardware:
		return "hardware"
	case DescSoftware:
		return "software"
	default:
		return "invalid"
	}
}

// Descriptor is one entry of a descriptor ring. Buffer, Length and Status
// may only be accessed by the side that currently owns the descriptor.
type Descriptor struct {
	state  atomic.Uint32
	Buffer []byte
	Length int
	Status uint32
}

func (d *Descriptor) State() DescState {
	return DescState(d.state.Load())
}

func (d *Descriptor) OwnedByHardware() bool {
	return d.State() == DescHardware
}

// Release hands the descriptor to hardware. The ownership store happens
// after every field write and is atomic, so the DMA side never observes a
// half-written descriptor.
func (d *Descriptor) Release() {
	d.state.Store(uint32(DescHardware))
}

// Complete is used by the hardware side to give a descriptor back:
// DescFree for a transmitted frame, DescSoftware for a received one.
func (d *Descriptor) Complete(s DescState) {
	d.state.Store(uint32(s))
}

// Ring is a fixed-size circular array of descriptors with a private
// software index. Full and empty are decided by ownership, never by
// comparing the software index with the hardware one.
type Ring struct {
	desc []Descriptor
	next int
}

func NewRing(count, bufSize int) *Ring {
	r := &Ring{desc: make([]Descriptor, count)}
	for i := range r.desc {
		r.desc[i].Buffer = make([]byte, bufSize)
	}
	return r
}

// Reset returns every descriptor to owner with its full buffer and rewinds
// the software index.
func (r *Ring) Reset(owner DescState) {
	for i := range r.desc {
		d := &r.desc[i]
		d.Buffer = d.Buffer[:cap(d.Buffer)]
		d.Length = 0
		d.Status = 0
		d.state.Store(uint32(owner))
	}
	r.next = 0
}

func (r *Ring) Len() int {
	return len(r.desc)
}

func (r *Ring) Index() int {
	return r.next
}

func (r *Ring) At(i int) *Descriptor {
	return &r.desc[i%len(r.desc)]
}

// Current returns the descriptor at the software index.
func (r *Ring) Current() *Descriptor {
	return &r.desc[r.next]
}

// Upcoming returns the descriptor after the current one.
func (r *Ring) Upcoming() *Descriptor {
	return &r.desc[r.Next(r.next)]
}

// Advance moves the software index forward with wraparound.
func (r *Ring) Advance() {
	r.next = r.Next(r.next)
}

func (r *Ring) Next(i int) int {
	i++
	if i >= len(r.desc) {
		i = 0
	}
	return i
}
