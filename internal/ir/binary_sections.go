package ir

import (
	"fmt"
	"sort"
)

// This file holds the per-section (un)marshal helpers binary.go's
// Marshal/Unmarshal call in section order. Splitting them out keeps
// the header/offset bookkeeping in binary.go separate from the
// per-field layout of each section, mirroring how the blockchain
// store splits its block header codec from its transaction codec.

func marshalInterner(strs []string) []byte {
	var w binWriter
	w.strList(strs)
	return w.buf
}

func unmarshalInterner(b []byte) ([]string, error) {
	r := &binReader{buf: b}
	return r.strList()
}

func marshalNodes(nodes []Node) []byte {
	var w binWriter
	w.u32(uint32(len(nodes)))
	for _, n := range nodes {
		w.u32(n.ID)
		w.u8(uint8(n.Kind))
		w.u8(uint8(n.Split))
		w.u8(uint8(n.Join))
		w.u16(n.PatternID)
		w.u32(n.GuardOffset)
		w.u32(n.GuardLen)
		w.i64(int64(n.TimerIndex))
		w.u32(n.InEdgesOffset)
		w.u32(n.InEdgesLen)
		w.u32(n.OutEdgesOffset)
		w.u32(n.OutEdgesLen)
		w.u32(n.PartialJoinThreshold)
		w.u64(n.RoleCaps)
		w.u32(n.PolicyID)
		w.u32(n.Flags)
		w.u32(n.MIMin)
		w.u32(n.MIMax)
		w.u8(uint8(n.MICompletion))
	}
	return w.buf
}

func unmarshalNodes(b []byte) ([]Node, error) {
	r := &binReader{buf: b}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, count)
	for i := range nodes {
		n := &nodes[i]
		if n.ID, err = r.u32(); err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		n.Kind = Kind(kind)
		split, err := r.u8()
		if err != nil {
			return nil, err
		}
		n.Split = SplitJoin(split)
		join, err := r.u8()
		if err != nil {
			return nil, err
		}
		n.Join = SplitJoin(join)
		if n.PatternID, err = r.u16(); err != nil {
			return nil, err
		}
		if n.GuardOffset, err = r.u32(); err != nil {
			return nil, err
		}
		if n.GuardLen, err = r.u32(); err != nil {
			return nil, err
		}
		timerIdx, err := r.i64()
		if err != nil {
			return nil, err
		}
		n.TimerIndex = int32(timerIdx)
		if n.InEdgesOffset, err = r.u32(); err != nil {
			return nil, err
		}
		if n.InEdgesLen, err = r.u32(); err != nil {
			return nil, err
		}
		if n.OutEdgesOffset, err = r.u32(); err != nil {
			return nil, err
		}
		if n.OutEdgesLen, err = r.u32(); err != nil {
			return nil, err
		}
		if n.PartialJoinThreshold, err = r.u32(); err != nil {
			return nil, err
		}
		if n.RoleCaps, err = r.u64(); err != nil {
			return nil, err
		}
		if n.PolicyID, err = r.u32(); err != nil {
			return nil, err
		}
		if n.Flags, err = r.u32(); err != nil {
			return nil, err
		}
		if n.MIMin, err = r.u32(); err != nil {
			return nil, err
		}
		if n.MIMax, err = r.u32(); err != nil {
			return nil, err
		}
		miCompletion, err := r.u8()
		if err != nil {
			return nil, err
		}
		n.MICompletion = MICompletionMode(miCompletion)
	}
	return nodes, nil
}

func marshalEdges(e EdgeArrays) (pred, succ []byte) {
	var wp, ws binWriter
	wp.u32(uint32(len(e.Pred)))
	for _, v := range e.Pred {
		wp.u32(v)
	}
	ws.u32(uint32(len(e.Succ)))
	for _, v := range e.Succ {
		ws.u32(v)
	}
	return wp.buf, ws.buf
}

func unmarshalEdges(predB, succB []byte) (EdgeArrays, error) {
	var e EdgeArrays
	rp := &binReader{buf: predB}
	n, err := rp.u32()
	if err != nil {
		return e, err
	}
	e.Pred = make([]uint32, n)
	for i := range e.Pred {
		if e.Pred[i], err = rp.u32(); err != nil {
			return e, err
		}
	}
	rs := &binReader{buf: succB}
	n, err = rs.u32()
	if err != nil {
		return e, err
	}
	e.Succ = make([]uint32, n)
	for i := range e.Succ {
		if e.Succ[i], err = rs.u32(); err != nil {
			return e, err
		}
	}
	return e, nil
}

func marshalPatterns(patterns *[PatternTableSize]PatternEntry) []byte {
	var w binWriter
	for i := range patterns {
		p := &patterns[i]
		if p.Used {
			w.u8(1)
		} else {
			w.u8(0)
		}
		w.str(p.Name)
		for _, h := range p.HandlerOffsets {
			w.u16(h)
		}
		for _, t := range p.PhaseTicks {
			w.u8(t)
		}
		for _, g := range p.GuardIDs {
			w.u32(g)
		}
		w.u8(p.MaxPhases)
	}
	return w.buf
}

func unmarshalPatterns(b []byte) ([PatternTableSize]PatternEntry, error) {
	var patterns [PatternTableSize]PatternEntry
	r := &binReader{buf: b}
	for i := range patterns {
		p := &patterns[i]
		used, err := r.u8()
		if err != nil {
			return patterns, err
		}
		p.Used = used != 0
		if p.Name, err = r.str(); err != nil {
			return patterns, err
		}
		for j := range p.HandlerOffsets {
			if p.HandlerOffsets[j], err = r.u16(); err != nil {
				return patterns, err
			}
		}
		for j := range p.PhaseTicks {
			if p.PhaseTicks[j], err = r.u8(); err != nil {
				return patterns, err
			}
		}
		for j := range p.GuardIDs {
			if p.GuardIDs[j], err = r.u32(); err != nil {
				return patterns, err
			}
		}
		if p.MaxPhases, err = r.u8(); err != nil {
			return patterns, err
		}
	}
	return patterns, nil
}

func marshalGuards(guards []GuardProgram) []byte {
	var w binWriter
	w.u32(uint32(len(guards)))
	for _, g := range guards {
		w.u32(g.ID)
		w.bytes(g.Code)
		w.u8(g.Ticks)
	}
	return w.buf
}

func unmarshalGuards(b []byte) ([]GuardProgram, error) {
	r := &binReader{buf: b}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	guards := make([]GuardProgram, count)
	for i := range guards {
		g := &guards[i]
		if g.ID, err = r.u32(); err != nil {
			return nil, err
		}
		if g.Code, err = r.bytes(); err != nil {
			return nil, err
		}
		if g.Ticks, err = r.u8(); err != nil {
			return nil, err
		}
	}
	return guards, nil
}

func marshalIntSlice32(w *binWriter, vals []int32) {
	w.u32(uint32(len(vals)))
	for _, v := range vals {
		w.i64(int64(v))
	}
}

func unmarshalIntSlice32(r *binReader) ([]int32, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		v, err := r.i64()
		if err != nil {
			return nil, err
		}
		out[i] = int32(v)
	}
	return out, nil
}

func marshalRRuleNorm(w *binWriter, rr *RRuleNorm) {
	if rr == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.str(rr.Freq)
	w.i64(int64(rr.Interval))
	marshalIntSlice32(w, rr.ByHour)
	marshalIntSlice32(w, rr.ByMinute)
	marshalIntSlice32(w, rr.BySecond)
	w.strList(rr.ByDay)
	marshalIntSlice32(w, rr.ByMonth)
	marshalIntSlice32(w, rr.ByMonthDay)
}

func unmarshalRRuleNorm(r *binReader) (*RRuleNorm, error) {
	present, err := r.u8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	rr := &RRuleNorm{}
	if rr.Freq, err = r.str(); err != nil {
		return nil, err
	}
	interval, err := r.i64()
	if err != nil {
		return nil, err
	}
	rr.Interval = int32(interval)
	if rr.ByHour, err = unmarshalIntSlice32(r); err != nil {
		return nil, err
	}
	if rr.ByMinute, err = unmarshalIntSlice32(r); err != nil {
		return nil, err
	}
	if rr.BySecond, err = unmarshalIntSlice32(r); err != nil {
		return nil, err
	}
	if rr.ByDay, err = r.strList(); err != nil {
		return nil, err
	}
	if rr.ByMonth, err = unmarshalIntSlice32(r); err != nil {
		return nil, err
	}
	if rr.ByMonthDay, err = unmarshalIntSlice32(r); err != nil {
		return nil, err
	}
	return rr, nil
}

func marshalTimers(timers []TimerDescriptor) []byte {
	var w binWriter
	w.u32(uint32(len(timers)))
	for _, t := range timers {
		w.u8(uint8(t.Kind))
		w.i64(t.CivilAnchorNs)
		w.i64(t.MonotonicOffsetNs)
		marshalRRuleNorm(&w, t.RRule)
		if t.CatchUp {
			w.u8(1)
		} else {
			w.u8(0)
		}
		w.u8(uint8(t.Policy))
	}
	return w.buf
}

func unmarshalTimers(b []byte) ([]TimerDescriptor, error) {
	r := &binReader{buf: b}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	timers := make([]TimerDescriptor, count)
	for i := range timers {
		t := &timers[i]
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		t.Kind = TimerKind(kind)
		if t.CivilAnchorNs, err = r.i64(); err != nil {
			return nil, err
		}
		if t.MonotonicOffsetNs, err = r.i64(); err != nil {
			return nil, err
		}
		if t.RRule, err = unmarshalRRuleNorm(r); err != nil {
			return nil, err
		}
		catchUp, err := r.u8()
		if err != nil {
			return nil, err
		}
		t.CatchUp = catchUp != 0
		policy, err := r.u8()
		if err != nil {
			return nil, err
		}
		t.Policy = CatchupPolicy(policy)
	}
	return timers, nil
}

func marshalCertificate(c *Certificate) []byte {
	var w binWriter
	w.raw(c.SigmaHash[:])

	w.u32(uint32(len(c.ISAOpcodeSet)))
	for _, op := range c.ISAOpcodeSet {
		w.u8(uint8(op))
	}

	writeU32Map := func(m map[uint32]uint8) {
		keys := make([]uint32, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		w.u32(uint32(len(keys)))
		for _, k := range keys {
			w.u32(k)
			w.u8(m[k])
		}
	}
	writeU32Map(c.PerTaskTicks)
	writeU32Map(c.PerGuardTicks)

	keys16 := make([]uint16, 0, len(c.PerPatternTicks))
	for k := range c.PerPatternTicks {
		keys16 = append(keys16, k)
	}
	sort.Slice(keys16, func(i, j int) bool { return keys16[i] < keys16[j] })
	w.u32(uint32(len(keys16)))
	for _, k := range keys16 {
		w.u16(k)
		w.u8(c.PerPatternTicks[k])
	}

	w.strList(c.InvariantIDs)
	w.raw(c.Sig[:])
	return w.buf
}

func unmarshalCertificate(b []byte) (*Certificate, error) {
	r := &binReader{buf: b}
	c := &Certificate{}
	sh, err := r.raw(32)
	if err != nil {
		return nil, err
	}
	copy(c.SigmaHash[:], sh)

	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	c.ISAOpcodeSet = make([]Opcode, n)
	for i := range c.ISAOpcodeSet {
		op, err := r.u8()
		if err != nil {
			return nil, err
		}
		c.ISAOpcodeSet[i] = Opcode(op)
	}

	readU32Map := func() (map[uint32]uint8, error) {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		m := make(map[uint32]uint8, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.u32()
			if err != nil {
				return nil, err
			}
			v, err := r.u8()
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	}
	if c.PerTaskTicks, err = readU32Map(); err != nil {
		return nil, err
	}
	if c.PerGuardTicks, err = readU32Map(); err != nil {
		return nil, err
	}

	n, err = r.u32()
	if err != nil {
		return nil, err
	}
	c.PerPatternTicks = make(map[uint16]uint8, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.u16()
		if err != nil {
			return nil, err
		}
		v, err := r.u8()
		if err != nil {
			return nil, err
		}
		c.PerPatternTicks[k] = v
	}

	if c.InvariantIDs, err = r.strList(); err != nil {
		return nil, err
	}
	sig, err := r.raw(64)
	if err != nil {
		return nil, fmt.Errorf("ir: certificate signature: %w", err)
	}
	copy(c.Sig[:], sig)
	return c, nil
}
