package ir

import "testing"

func sampleImage() *Image {
	img := &Image{
		Strings: []string{"yawl:authorize", "yawl:withdraw"},
		Nodes: []Node{
			{
				ID: 0, Kind: KindTask, Split: SJAnd, Join: SJXor,
				PatternID: 1, GuardOffset: 0, GuardLen: 1, TimerIndex: -1,
				OutEdgesOffset: 0, OutEdgesLen: 1, PartialJoinThreshold: 1,
				RoleCaps: 0x1, PolicyID: 0, Flags: FlagResettable,
			},
		},
		Edges: EdgeArrays{Pred: []uint32{}, Succ: []uint32{1}},
		Guards: []GuardProgram{
			{ID: 0, Code: []byte{byte(OpPushConst), 1, byte(OpReadObs), 0, byte(OpCompareEQ)}, Ticks: 3},
		},
		Timers: []TimerDescriptor{
			{
				Kind: TimerRecurring, CivilAnchorNs: 1000, MonotonicOffsetNs: 0,
				RRule: &RRuleNorm{Freq: "DAILY", Interval: 1, ByHour: []int32{9}},
				CatchUp: true, Policy: PolicyCatchUp,
			},
		},
		Cert: Certificate{
			ISAOpcodeSet:    []Opcode{OpPushConst, OpReadObs, OpCompareEQ},
			PerTaskTicks:    map[uint32]uint8{0: 3},
			PerPatternTicks: map[uint16]uint8{1: 5},
			PerGuardTicks:   map[uint32]uint8{0: 3},
			InvariantIDs:    []string{"I1", "I2"},
		},
	}
	img.SigmaHash[0] = 0xAB
	img.Cert.SigmaHash = img.SigmaHash
	img.Cert.Sig[0] = 0xCD
	img.Patterns[1] = PatternEntry{
		Used: true, Name: "Sequence",
		HandlerOffsets: [MaxPhases]uint16{0: 10},
		PhaseTicks:     [MaxPhases]uint8{0: 2},
		GuardIDs:       [MaxPhases]uint32{0: 0},
		MaxPhases:      1,
	}
	return img
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	img := sampleImage()
	blob, err := img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(blob)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.SigmaHash != img.SigmaHash {
		t.Fatalf("sigma hash mismatch")
	}
	if len(got.Strings) != 2 || got.Strings[1] != "yawl:withdraw" {
		t.Fatalf("interner mismatch: %v", got.Strings)
	}
	if len(got.Nodes) != 1 || got.Nodes[0].PatternID != 1 || got.Nodes[0].TimerIndex != -1 {
		t.Fatalf("node mismatch: %+v", got.Nodes)
	}
	if len(got.Edges.Succ) != 1 || got.Edges.Succ[0] != 1 {
		t.Fatalf("edge mismatch: %+v", got.Edges)
	}
	if !got.Patterns[1].Used || got.Patterns[1].Name != "Sequence" {
		t.Fatalf("pattern mismatch: %+v", got.Patterns[1])
	}
	if len(got.Guards) != 1 || got.Guards[0].Ticks != 3 || len(got.Guards[0].Code) != 5 {
		t.Fatalf("guard mismatch: %+v", got.Guards)
	}
	if len(got.Timers) != 1 || got.Timers[0].RRule == nil || got.Timers[0].RRule.Freq != "DAILY" {
		t.Fatalf("timer mismatch: %+v", got.Timers)
	}
	if got.Cert.Sig[0] != 0xCD || len(got.Cert.InvariantIDs) != 2 {
		t.Fatalf("certificate mismatch: %+v", got.Cert)
	}
	if got.Cert.PerTaskTicks[0] != 3 || got.Cert.PerPatternTicks[1] != 5 {
		t.Fatalf("certificate tick maps mismatch: %+v", got.Cert)
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	img := sampleImage()
	blob, err := img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	blob[0] = 'X'
	if _, err := Unmarshal(blob); err == nil {
		t.Fatal("expected bad-magic error")
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	img := sampleImage()
	blob, err := img.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(blob[:headerSize-1]); err == nil {
		t.Fatal("expected truncation error")
	}
}
