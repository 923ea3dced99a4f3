package domain

import (
	"fmt"
	"strings"
)

// Verdict is the single decision derived from a risk score.
type Verdict string

const (
	// VerdictAllow forwards the text unchanged.
	VerdictAllow Verdict = "ALLOW"
	// VerdictMask replaces every fused entity with a type token.
	VerdictMask Verdict = "MASK"
	// VerdictBlock replaces the whole text with a canonical message.
	VerdictBlock Verdict = "BLOCK"
)

// Severity orders verdicts: Allow < Mask < Block. Unknown verdicts rank -1.
func (v Verdict) Severity() int {
	switch v {
	case VerdictAllow:
		return 0
	case VerdictMask:
		return 1
	case VerdictBlock:
		return 2
	default:
		return -1
	}
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	return v.Severity() >= 0
}

// ParseVerdict accepts a verdict name in any letter case.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}
