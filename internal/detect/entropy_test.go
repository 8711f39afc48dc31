package detect

import (
	"math"
	"testing"
)

func TestFilenameEntropy_EmptyIsZero(t *testing.T) {
	if got := FilenameEntropy(""); got != 0 {
		t.Errorf("FilenameEntropy(\"\") = %v, want 0", got)
	}
}

func TestFilenameEntropy_SingleRepeatedByteIsZero(t *testing.T) {
	if got := FilenameEntropy("aaaaaaaa"); got != 0 {
		t.Errorf("FilenameEntropy of a single repeated byte = %v, want 0", got)
	}
}

func TestFilenameEntropy_RandomLookingNameExceedsRansomwareLimit(t *testing.T) {
	// A high-entropy, effectively-random filename (the shape ransomware
	// tools produce) should clear the mass-encryption detector's entropy
	// threshold even without a known ransomware extension.
	name := "x7f9q2mz8k1wphdn.bin"
	got := FilenameEntropy(name)
	if got <= ransomwareEntropyLimit {
		t.Errorf("FilenameEntropy(%q) = %v, want > %v", name, got, ransomwareEntropyLimit)
	}
}

func TestFilenameEntropy_LowEntropyNameStaysUnderLimit(t *testing.T) {
	name := "invoice.pdf"
	got := FilenameEntropy(name)
	if got >= ransomwareEntropyLimit {
		t.Errorf("FilenameEntropy(%q) = %v, want < %v", name, got, ransomwareEntropyLimit)
	}
}

func TestFilenameEntropy_IsNonNegativeAndFinite(t *testing.T) {
	for _, name := range []string{"a", "ab", "report_final_v2.docx", "!@#$%^&*()"} {
		got := FilenameEntropy(name)
		if got < 0 || math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("FilenameEntropy(%q) = %v, want a finite non-negative value", name, got)
		}
	}
}
