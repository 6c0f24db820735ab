package models

import (
	"fmt"
	"strings"
	"unicode"
)

// SecurityType classifies a listed security. It determines the high bits of
// the encoded security id (sid).
type SecurityType string

const (
	SecEquity     SecurityType = "Equity"
	SecPreferred  SecurityType = "Preferred"
	SecADR        SecurityType = "ADR"
	SecWarrant    SecurityType = "Warrant"
	SecBond       SecurityType = "Bond"
	SecOption     SecurityType = "Option"
	SecFuture     SecurityType = "Future"
	SecETF        SecurityType = "ETF"
	SecMutualFund SecurityType = "MutualFund"
	SecCrypto     SecurityType = "Crypto"
	SecFX         SecurityType = "FX"
	SecSwap       SecurityType = "Swap"
	SecOther      SecurityType = "Other"
)

const (
	sidShift   = 48
	sidSeqMask = 0x7FFF_FFFF
)

var typeMasks = map[SecurityType]int64{
	SecEquity:     0b0000_0000,
	SecPreferred:  0b0000_0010,
	SecADR:        0b0000_0100,
	SecWarrant:    0b0000_0110,
	SecBond:       0b0001_0000,
	SecOption:     0b0010_0000,
	SecFuture:     0b0011_0000,
	SecETF:        0b0100_0000,
	SecMutualFund: 0b0101_0000,
	SecCrypto:     0b0110_0000,
	SecFX:         0b0111_0000,
	SecSwap:       0b1000_0000,
	SecOther:      0b1111_0000,
}

var maskTypes = func() map[int64]SecurityType {
	m := make(map[int64]SecurityType, len(typeMasks))
	for t, mask := range typeMasks {
		m[mask] = t
	}
	return m
}()

// ordered so that the more specific patterns win ("etf" before "fund")
var securityTypePatterns = []struct {
	pattern string
	typ     SecurityType
}{
	{"equity", SecEquity},
	{"stock", SecEquity},
	{"preferred", SecPreferred},
	{"pfd", SecPreferred},
	{"adr", SecADR},
	{"warrant", SecWarrant},
	{"bond", SecBond},
	{"option", SecOption},
	{"future", SecFuture},
	{"etf", SecETF},
	{"fund", SecMutualFund},
	{"crypto", SecCrypto},
	{"forei", SecFX},
	{"fx", SecFX},
	{"swap", SecSwap},
}

// ParseSecurityType maps a free-form asset type string onto a SecurityType.
func ParseSecurityType(s string) SecurityType {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, p := range securityTypePatterns {
		if lower == p.pattern {
			return p.typ
		}
	}
	for _, p := range securityTypePatterns {
		if strings.Contains(lower, p.pattern) {
			return p.typ
		}
	}
	return SecOther
}

// ClassifySecurity combines the provider's asset type with hints in the
// security name. Name patterns take precedence over the asset type.
func ClassifySecurity(assetType, name string) SecurityType {
	var typ SecurityType
	switch strings.ToLower(strings.TrimSpace(assetType)) {
	case "stock", "equity":
		typ = SecEquity
	case "etf":
		typ = SecETF
	case "mutual fund":
		typ = SecMutualFund
	default:
		typ = ParseSecurityType(assetType)
	}

	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	switch {
	case hasWord(words, "adr", "ads"):
		typ = SecADR
	case hasWord(words, "warrant", "warrants", "wrnt", "wt"):
		typ = SecWarrant
	case hasWord(words, "pfd", "preferred", "pref"):
		typ = SecPreferred
	}
	return typ
}

func hasWord(words []string, candidates ...string) bool {
	for _, w := range words {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}

// EncodeSID packs a security type and a per-type sequence number into a sid.
func EncodeSID(t SecurityType, seq uint32) int64 {
	mask, ok := typeMasks[t]
	if !ok {
		mask = typeMasks[SecOther]
	}
	return mask<<sidShift | int64(seq&sidSeqMask)
}

// DecodeSID splits a sid into its security type and sequence number.
func DecodeSID(sid int64) (SecurityType, uint32, error) {
	t, ok := maskTypes[sid>>sidShift]
	if !ok {
		return "", 0, fmt.Errorf("sid %d has unknown type bits %#x", sid, sid>>sidShift)
	}
	return t, uint32(sid & sidSeqMask), nil
}

// SIDRange returns the inclusive sid range reserved for a security type.
func SIDRange(t SecurityType) (lo, hi int64) {
	return EncodeSID(t, 0), EncodeSID(t, sidSeqMask)
}

// Digital currencies trade around the clock and are quoted against USD.
const (
	DigitalMarket   = "USD"
	DigitalTimezone = "UTC"
)

// DigitalSymbol builds the Crypto symbol for a digital currency listing entry.
func DigitalSymbol(code, name string) Symbol {
	return Symbol{
		Symbol:      strings.ToUpper(strings.TrimSpace(code)),
		Name:        strings.TrimSpace(name),
		SecType:     SecCrypto,
		Region:      "USA",
		MarketOpen:  "00:00",
		MarketClose: "23:59",
		Timezone:    DigitalTimezone,
		Currency:    DigitalMarket,
	}
}
