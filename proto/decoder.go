package proto

import (
	"bytes"
	"log/slog"
	"sync/atomic"
)

// Status is the outcome of feeding input to the Decoder.
type Status int

const (
	NeedMore  Status = iota // frame in progress, or scanning for START
	Ready                   // one or more messages can be taken with Next
	Resync                  // a candidate frame was rejected and scanning restarted
	Discarded               // a well-formed frame was consumed but is not routable
)

func (s Status) String() string {
	switch s {
	case NeedMore:
		return "need_more"
	case Ready:
		return "ready"
	case Resync:
		return "resync"
	case Discarded:
		return "discarded"
	}
	return "unknown"
}

type phase uint8

const (
	seekStart phase = iota
	readLen
	readLenComplement
	readSeq
	readSource
	readType
	readPayload
	readChecksum
)

// DecoderStats counts what the decoder has seen on the line.
type DecoderStats struct {
	Frames         uint64 `json:"frames"`
	Resyncs        uint64 `json:"resyncs"`
	LengthErrors   uint64 `json:"length_errors"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	FormatErrors   uint64 `json:"format_errors"`
	UnknownTypes   uint64 `json:"unknown_types"`
	GarbageBytes   uint64 `json:"garbage_bytes"`
	SequenceGaps   uint64 `json:"sequence_gaps"`
}

type decoderCounters struct {
	frames, resyncs, lengthErrors, checksumErrors atomic.Uint64
	formatErrors, unknownTypes, garbage, gaps     atomic.Uint64
}

var statusRank = [...]int{NeedMore: 0, Discarded: 1, Resync: 2, Ready: 3}

// merge keeps the more significant of two statuses.
func merge(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

type seqTrack struct {
	seen bool
	last uint8
}

// Decoder parses the serial byte stream one byte at a time. It is owned by a
// single reader goroutine; Stats may be called from anywhere.
//
// START is not escaped on the wire, so when a candidate frame fails
// validation the bytes consumed after its START are scanned again. A frame
// that passes its checksum but carries a START byte is held back while a
// second parse runs from that START: if the inner parse completes, the outer
// frame was a truncated one that happened to checksum and is dropped. A
// held frame is released when the inner parse fails, or by Abort.
type Decoder struct {
	registry *Registry

	phase    phase
	length   uint8 // L as sent
	expected int   // payload length declared by the registry
	checksum byte
	seq      uint8
	source   Source
	typ      Type
	payload  [MaxPayloadLength]byte
	consumed int
	anomaly  bool

	raw     []byte // bytes of the current candidate after its START
	work    []byte
	scratch []byte
	ready   []Message

	rewind     bool // set by step: rescan raw from rewindFrom
	rewindFrom int
	innerFail  bool // set by step: the parse inside the held frame failed

	held        bool
	heldMsg     Message
	heldSeq     uint8
	heldAnomaly bool
	heldLength  uint8
	heldTail    int // bytes of the held frame after the inner START

	seqs     [256]seqTrack
	counters decoderCounters
}

func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{
		registry: registry,
		raw:      make([]byte, 0, MaxFrameLength),
		work:     make([]byte, 0, MaxFrameLength),
		scratch:  make([]byte, 0, MaxFrameLength),
	}
}

// Feed advances the parser by one input byte. When it returns Ready the
// completed messages are taken with Next.
func (d *Decoder) Feed(b byte) Status {
	d.work = append(d.work[:0], b)
	return d.run()
}

// Abort gives up on the frame in progress, for example when the line has
// gone idle, and rescans its bytes for another START. A held frame is
// released.
func (d *Decoder) Abort() Status {
	if d.phase == seekStart {
		return NeedMore
	}
	status := NeedMore
	for first := true; first || d.held; first = false {
		d.work = d.work[:0]
		if d.held {
			d.innerFail = true
		} else {
			d.counters.resyncs.Add(1)
			d.phase = seekStart
			d.rewind, d.rewindFrom = true, 0
		}
		status = merge(status, d.restart(nil))
		status = merge(status, d.run())
	}
	return status
}

// InFrame reports whether a frame is partially parsed or held.
func (d *Decoder) InFrame() bool {
	return d.phase != seekStart
}

// Next pops the oldest completed message.
func (d *Decoder) Next() (Message, bool) {
	if len(d.ready) == 0 {
		return Message{}, false
	}
	m := d.ready[0]
	copy(d.ready, d.ready[1:])
	d.ready = d.ready[:len(d.ready)-1]
	return m, true
}

func (d *Decoder) Stats() DecoderStats {
	c := &d.counters
	return DecoderStats{
		Frames:         c.frames.Load(),
		Resyncs:        c.resyncs.Load(),
		LengthErrors:   c.lengthErrors.Load(),
		ChecksumErrors: c.checksumErrors.Load(),
		FormatErrors:   c.formatErrors.Load(),
		UnknownTypes:   c.unknownTypes.Load(),
		GarbageBytes:   c.garbage.Load(),
		SequenceGaps:   c.gaps.Load(),
	}
}

// run steps through d.work. When step asks for a rescan, the requested part
// of the candidate is spliced back in front of the remaining input. Every
// rescan starts past at least one START, so this terminates.
func (d *Decoder) run() Status {
	status := NeedMore
	for i := 0; i < len(d.work); i++ {
		status = merge(status, d.step(d.work[i]))
		if d.rewind || d.innerFail {
			status = merge(status, d.restart(d.work[i+1:]))
			i = -1
		}
	}
	d.work = d.work[:0]
	return status
}

// restart rebuilds d.work from the candidate bytes and rest. When the parse
// inside a held frame failed, it moves on to the next START in the held
// frame or, with none left, releases the held frame and rescans what
// followed it.
func (d *Decoder) restart(rest []byte) Status {
	v := append(append(d.scratch[:0], d.raw...), rest...)
	d.raw = d.raw[:0]
	from := d.rewindFrom
	status := NeedMore
	if d.innerFail {
		d.innerFail = false
		tail := v[:min(d.heldTail, len(v))]
		if j := bytes.IndexByte(tail, Start); j >= 0 {
			d.heldTail = len(tail) - (j + 1)
			d.phase = readLen
			from = j + 1
		} else {
			d.held = false
			d.phase = seekStart
			from = len(tail)
			status = d.emit(&d.heldMsg, d.heldSeq, d.heldAnomaly, d.heldLength)
		}
	}
	d.rewind = false
	n := copy(v, v[from:])
	d.work, d.scratch = v[:n], d.work[:0]
	return status
}

// fail rejects the current candidate. Inside a held frame it only ends the
// inner parse, which proves nothing about the held frame.
func (d *Decoder) fail(counter *atomic.Uint64) Status {
	if d.held {
		d.innerFail = true
		return NeedMore
	}
	counter.Add(1)
	d.counters.resyncs.Add(1)
	d.phase = seekStart
	d.rewind, d.rewindFrom = true, 0
	return Resync
}

// step consumes exactly one byte.
func (d *Decoder) step(b byte) Status {
	if d.phase != seekStart {
		d.raw = append(d.raw, b)
	}

	switch d.phase {
	case seekStart:
		if b == Start {
			d.raw = d.raw[:0]
			d.phase = readLen
		} else {
			d.counters.garbage.Add(1)
		}

	case readLen:
		d.length = b
		d.phase = readLenComplement

	case readLenComplement:
		if b != ^d.length {
			return d.fail(&d.counters.lengthErrors)
		}
		d.phase = readSeq

	case readSeq:
		d.seq = b
		d.checksum = b
		d.phase = readSource

	case readSource:
		d.source = Source(b)
		d.checksum += b
		d.phase = readType

	case readType:
		d.checksum += b
		entry, ok := d.registry.Lookup(Type(b))
		if !ok {
			if !d.held {
				slog.Warn("Unknown message type on serial link", "type", b, "source", d.source, "length", d.length)
			}
			return d.fail(&d.counters.unknownTypes)
		}
		d.typ = entry.Type
		d.expected = entry.Length
		d.consumed = 0
		d.anomaly = int(d.length) != entry.Length
		if d.expected == 0 {
			d.phase = readChecksum
		} else {
			d.phase = readPayload
		}

	case readPayload:
		d.payload[d.consumed] = b
		d.consumed++
		d.checksum += b
		if d.consumed == d.expected {
			d.phase = readChecksum
		}

	case readChecksum:
		if b != d.checksum {
			return d.fail(&d.counters.checksumErrors)
		}
		return d.complete()
	}
	return NeedMore
}

// complete handles a candidate that passed its checksum. A held frame is
// dropped, since a valid frame started inside it. A frame carrying a START
// is itself held while the bytes from that START are parsed.
func (d *Decoder) complete() Status {
	status := NeedMore
	if d.held {
		d.held = false
		d.counters.resyncs.Add(1)
		slog.Debug("Dropped truncated frame", "type", d.heldMsg.Header.Type, "source", d.heldMsg.Header.Source)
		status = Resync
	}

	var m Message
	m.Header = Header{Type: d.typ, Source: d.source, Length: uint8(d.expected)}
	copy(m.Payload[:], d.payload[:d.expected])

	if j := bytes.IndexByte(d.raw, Start); j >= 0 {
		d.held = true
		d.heldMsg = m
		d.heldSeq = d.seq
		d.heldAnomaly = d.anomaly
		d.heldLength = d.length
		d.heldTail = len(d.raw) - (j + 1)
		d.phase = readLen
		d.rewind, d.rewindFrom = true, j+1
		return status
	}
	d.phase = seekStart
	d.raw = d.raw[:0]
	return merge(status, d.emit(&m, d.seq, d.anomaly, d.length))
}

func (d *Decoder) emit(m *Message, seq uint8, anomaly bool, wireLength uint8) Status {
	d.trackSequence(m.Header.Source, seq)
	if anomaly {
		d.counters.formatErrors.Add(1)
		slog.Warn("Frame length disagrees with registry",
			"type", m.Header.Type, "wire_length", wireLength, "registry_length", m.Header.Length)
		return Discarded
	}
	d.counters.frames.Add(1)
	d.ready = append(d.ready, *m)
	return Ready
}

// trackSequence counts frames missing between consecutive sequence numbers
// from one source. Gaps are only counted; nothing is retransmitted.
func (d *Decoder) trackSequence(source Source, seq uint8) {
	t := &d.seqs[source]
	if t.seen {
		if gap := seq - (t.last + 1); gap != 0 {
			d.counters.gaps.Add(uint64(gap))
			slog.Debug("Sequence gap on serial link", "source", source, "expected", t.last+1, "got", seq)
		}
	}
	t.seen = true
	t.last = seq
}
