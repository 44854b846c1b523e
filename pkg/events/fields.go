package events

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/canopy-network/roscax/pkg/utils"
)

// fields reads a positional payload. The first failure sticks and later reads return zero values.
type fields struct {
	raw []json.RawMessage
	err error
}

func (f *fields) fail(i int, name, format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%s (position %d): %s", name, i, fmt.Sprintf(format, args...))
	}
}

func (f *fields) present(i int) bool {
	return i < len(f.raw) && !isNull(f.raw[i])
}

func (f *fields) get(i int, name string) (json.RawMessage, bool) {
	if f.err != nil {
		return nil, false
	}
	if !f.present(i) {
		f.fail(i, name, "missing")
		return nil, false
	}
	return f.raw[i], true
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseUint accepts a JSON integer, a decimal string or a 0x-prefixed hex string.
func parseUint(raw json.RawMessage) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	s := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return strconv.ParseUint(s[2:], 16, 64)
		}
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("must not be negative, got %s", s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("out of range: %s", s)
		}
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	return n, nil
}

func (f *fields) unsigned(i int, name string, limit uint64) uint64 {
	raw, ok := f.get(i, name)
	if !ok {
		return 0
	}
	n, err := parseUint(raw)
	if err != nil {
		f.fail(i, name, "%v", err)
		return 0
	}
	if n > limit {
		f.fail(i, name, "out of range: %d", n)
		return 0
	}
	return n
}

func (f *fields) u32(i int, name string) uint32 {
	return uint32(f.unsigned(i, name, math.MaxUint32))
}

// amount is a non-negative int64 quantity.
func (f *fields) amount(i int, name string) int64 {
	return int64(f.unsigned(i, name, math.MaxInt64))
}

// positive is an amount that must be greater than zero.
func (f *fields) positive(i int, name string) int64 {
	n := f.amount(i, name)
	if f.err == nil && n == 0 {
		f.fail(i, name, "must be positive")
	}
	return n
}

func (f *fields) boolean(i int, name string) bool {
	raw, ok := f.get(i, name)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		f.fail(i, name, "not a boolean")
	}
	return b
}

func (f *fields) optionalBool(i int, name string, def bool) bool {
	if !f.present(i) {
		return def
	}
	return f.boolean(i, name)
}

func (f *fields) str(i int, name string) string {
	raw, ok := f.get(i, name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		f.fail(i, name, "not a string")
		return ""
	}
	return s
}

func (f *fields) optionalString(i int, name string) string {
	if !f.present(i) {
		return ""
	}
	return strings.TrimSpace(f.str(i, name))
}

// address is a non-empty account identifier.
func (f *fields) address(i int, name string) string {
	s := strings.TrimSpace(f.str(i, name))
	if f.err == nil && s == "" {
		f.fail(i, name, "empty address")
	}
	return s
}

// text decodes free text that may arrive hex-encoded ("0x5361766572730a").
func (f *fields) text(i int, name string) string {
	return decodeText(f.str(i, name))
}

func decodeText(s string) string {
	if !strings.HasPrefix(s, "0x") || len(s)%2 != 0 {
		return s
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}

// addresses is a list of accounts; blanks and duplicates are dropped keeping first occurrence.
func (f *fields) addresses(i int, name string) []string {
	raw, ok := f.get(i, name)
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		f.fail(i, name, "not a list of addresses")
		return nil
	}
	return utils.Dedup(list)
}

type roundWire struct {
	RoundNumber          json.RawMessage `json:"round_number"`
	PaymentCutoff        json.RawMessage `json:"payment_cutoff"`
	ExpectedContributors []string        `json:"expected_contributors"`
	Recipient            string          `json:"recipient"`
}

// rounds decodes the rotation schedule. Round numbers must run 1..n in order.
func (f *fields) rounds(i int, name string) []RoundInfo {
	raw, ok := f.get(i, name)
	if !ok {
		return nil
	}
	var wire []roundWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		f.fail(i, name, "not a list of rounds")
		return nil
	}
	if len(wire) == 0 {
		f.fail(i, name, "no rounds")
		return nil
	}

	out := make([]RoundInfo, 0, len(wire))
	for idx, w := range wire {
		number, err := parseUint(w.RoundNumber)
		if err != nil {
			f.fail(i, name, "round %d: round_number %v", idx, err)
			return nil
		}
		if number != uint64(idx+1) {
			f.fail(i, name, "round numbers must be contiguous from 1, got %d at index %d", number, idx)
			return nil
		}
		cutoff, err := parseUint(w.PaymentCutoff)
		if err != nil || cutoff > math.MaxInt64 {
			f.fail(i, name, "round %d: invalid payment_cutoff", number)
			return nil
		}
		recipient := strings.TrimSpace(w.Recipient)
		if recipient == "" {
			f.fail(i, name, "round %d: empty recipient", number)
			return nil
		}
		out = append(out, RoundInfo{
			RoundNumber:          uint32(number),
			PaymentCutoff:        int64(cutoff),
			ExpectedContributors: utils.Dedup(w.ExpectedContributors),
			Recipient:            recipient,
		})
	}
	return out
}
