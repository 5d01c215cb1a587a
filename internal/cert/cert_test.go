package cert

import (
	"testing"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

func sampleImageAndCert() *ir.Image {
	img := &ir.Image{
		Nodes: []ir.Node{
			{ID: 0, PatternID: 1, GuardOffset: 0, GuardLen: 1},
		},
		Guards: []ir.GuardProgram{
			{ID: 0, Code: []byte{0x10}, Ticks: 2},
		},
		Cert: ir.Certificate{
			ISAOpcodeSet:    []ir.Opcode{ir.OpPushConst, ir.OpReadObs, ir.OpCompareEQ},
			PerTaskTicks:    map[uint32]uint8{0: 1},
			PerPatternTicks: map[uint16]uint8{1: 3},
			PerGuardTicks:   map[uint32]uint8{0: 2},
			InvariantIDs:    []string{"I1"},
		},
	}
	img.SigmaHash[0] = 0x01
	img.Cert.SigmaHash = img.SigmaHash
	return img
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, pub, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	img := sampleImageAndCert()

	token, err := signer.Sign(&img.Cert)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	loader := NewLoader(pub, img.Cert.ISAOpcodeSet, img.Cert.InvariantIDs, 8)
	if err := loader.Verify(img, token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedSigmaHash(t *testing.T) {
	signer, pub, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	img := sampleImageAndCert()
	token, err := signer.Sign(&img.Cert)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	img.SigmaHash[0] = 0xFF // image hash now diverges from the certified hash

	loader := NewLoader(pub, img.Cert.ISAOpcodeSet, img.Cert.InvariantIDs, 8)
	if err := loader.Verify(img, token); err == nil {
		t.Fatal("expected ErrInvalidCert for tampered sigma hash")
	}
}

func TestVerifyRejectsUnsupportedOpcode(t *testing.T) {
	signer, pub, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	img := sampleImageAndCert()
	img.Cert.ISAOpcodeSet = append(img.Cert.ISAOpcodeSet, ir.Opcode(0xFE))
	token, err := signer.Sign(&img.Cert)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	loader := NewLoader(pub, []ir.Opcode{ir.OpPushConst, ir.OpReadObs, ir.OpCompareEQ}, img.Cert.InvariantIDs, 8)
	if err := loader.Verify(img, token); err == nil {
		t.Fatal("expected ErrUnsupportedISA for unknown opcode")
	}
}

func TestVerifyRejectsBudgetExceeded(t *testing.T) {
	signer, pub, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	img := sampleImageAndCert()
	token, err := signer.Sign(&img.Cert)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	loader := NewLoader(pub, img.Cert.ISAOpcodeSet, img.Cert.InvariantIDs, 2) // τ too small
	if err := loader.Verify(img, token); err == nil {
		t.Fatal("expected ErrInvalidCert for timing proof over budget")
	}
}
