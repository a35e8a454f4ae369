package ccsds

// PacketGroup is a run of packets on one APID whose sequence flags form a
// group: First, zero or more Continuations, then Last, or a single
// standalone packet.
type PacketGroup struct {
	APID    APID
	Packets []Packet
	// Complete is true for a well-formed group with no missing packets.
	Complete bool
	// HaveMissing is true when a sequence count gap was seen while the
	// group was open.
	HaveMissing bool
}

// groupState is an open group for one APID.
type groupState struct {
	group    PacketGroup
	hasFirst bool
	lastSeq  uint16
}

// PacketGrouper partitions packets by APID and assembles them into
// PacketGroups. Groups are emitted in the order they close.
type PacketGrouper struct {
	open map[APID]*groupState
	// order of APIDs by open time, for deterministic flushing
	order []APID
}

// NewPacketGrouper returns an empty grouper.
func NewPacketGrouper() *PacketGrouper {
	return &PacketGrouper{open: map[APID]*groupState{}}
}

func (g *PacketGrouper) close(apid APID) PacketGroup {
	st := g.open[apid]
	delete(g.open, apid)
	for i, a := range g.order {
		if a == apid {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	grp := st.group
	grp.Complete = st.hasFirst &&
		!grp.HaveMissing &&
		len(grp.Packets) >= 2 &&
		grp.Packets[len(grp.Packets)-1].IsLast()
	return grp
}

func (g *PacketGrouper) start(p Packet) {
	apid := p.Header.APID
	g.open[apid] = &groupState{
		group:    PacketGroup{APID: apid, Packets: []Packet{p}},
		hasFirst: p.IsFirst(),
		lastSeq:  p.Header.SequenceCount,
	}
	g.order = append(g.order, apid)
}

// Push feeds one packet and returns any groups closed by it.
func (g *PacketGrouper) Push(p Packet) []PacketGroup {
	apid := p.Header.APID
	var closed []PacketGroup

	st := g.open[apid]
	if st != nil && MissingPackets(p.Header.SequenceCount, st.lastSeq) > 0 {
		// A gap ends the open group; it can never complete now.
		st.group.HaveMissing = true
		closed = append(closed, g.close(apid))
		st = nil
	}

	switch p.Header.SequenceFlags {
	case SeqUnsegmented:
		if st != nil {
			closed = append(closed, g.close(apid))
		}
		closed = append(closed, PacketGroup{
			APID:     apid,
			Packets:  []Packet{p},
			Complete: true,
		})
	case SeqFirst:
		if st != nil {
			closed = append(closed, g.close(apid))
		}
		g.start(p)
	case SeqContinuation:
		if st == nil {
			// continuation with no First can never form a complete group,
			// but its packets are still delivered
			g.start(p)
		} else {
			st.group.Packets = append(st.group.Packets, p)
			st.lastSeq = p.Header.SequenceCount
		}
	case SeqLast:
		if st == nil {
			g.start(p)
		} else {
			st.group.Packets = append(st.group.Packets, p)
			st.lastSeq = p.Header.SequenceCount
		}
		closed = append(closed, g.close(apid))
	}
	return closed
}

// Flush closes all remaining open groups, in the order they were opened.
// Groups cut off by the end of the stream are incomplete.
func (g *PacketGrouper) Flush() []PacketGroup {
	var closed []PacketGroup
	for len(g.order) > 0 {
		apid := g.order[0]
		grp := g.close(apid)
		grp.Complete = false
		closed = append(closed, grp)
	}
	return closed
}

// PacketSource yields packets, e.g. a PacketIter adapted by a caller.
type PacketSource interface {
	Next() (Packet, error)
}

// GroupIter assembles a packet stream into groups.
type GroupIter struct {
	packets PacketSource
	g       *PacketGrouper
	ready   []PacketGroup
	err     error
	flushed bool
}

// Groups returns an iterator applying grouping to every packet from packets.
func Groups(packets PacketSource) *GroupIter {
	return &GroupIter{packets: packets, g: NewPacketGrouper()}
}

type decodedPacketSource struct {
	it *PacketIter
}

func (s decodedPacketSource) Next() (Packet, error) {
	dp, err := s.it.Next()
	return dp.Packet, err
}

// GroupsFromDecoded groups the packets produced by an extractor, discarding
// the channel identifiers.
func GroupsFromDecoded(it *PacketIter) *GroupIter {
	return Groups(decodedPacketSource{it})
}

// Next returns the next closed group, or io.EOF once the packet stream and
// any trailing open groups are exhausted.
func (it *GroupIter) Next() (PacketGroup, error) {
	for {
		if len(it.ready) > 0 {
			grp := it.ready[0]
			it.ready = it.ready[1:]
			return grp, nil
		}
		if it.err != nil {
			if !it.flushed {
				it.flushed = true
				it.ready = it.g.Flush()
				continue
			}
			return PacketGroup{}, it.err
		}
		p, err := it.packets.Next()
		if err != nil {
			it.err = err
			continue
		}
		it.ready = it.g.Push(p)
	}
}
