// Package chipset describes AMD GPU hardware generations
// and the features lowering patterns are gated on.
package chipset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Chipset is a gfx target such as gfx90a: major 9, minor 0, stepping 0xa.
	Chipset struct {
		Major    uint
		Minor    uint
		Stepping uint
	}

	InvalidFormatError struct {
		Input  string
		Reason string
	}
)

// Parse reads a generation identifier. The "gfx" prefix is optional.
// The last two characters are the hex minor version and stepping,
// everything before them is the decimal major version.
func Parse(name string) (c Chipset, err error) {
	s := strings.TrimPrefix(strings.TrimSpace(name), "gfx")

	if len(s) < 3 {
		return c, InvalidFormatError{Input: name, Reason: "expected at least 3 version digits"}
	}

	major, err := strconv.ParseUint(s[:len(s)-2], 10, 32)
	if err != nil || major == 0 {
		return c, InvalidFormatError{Input: name, Reason: "bad major version"}
	}

	minor, err := strconv.ParseUint(s[len(s)-2:len(s)-1], 16, 8)
	if err != nil {
		return c, InvalidFormatError{Input: name, Reason: "bad minor version"}
	}

	step, err := strconv.ParseUint(s[len(s)-1:], 16, 8)
	if err != nil {
		return c, InvalidFormatError{Input: name, Reason: "bad stepping"}
	}

	return Chipset{Major: uint(major), Minor: uint(minor), Stepping: uint(step)}, nil
}

// MustParse is Parse for constants in tests and tables.
func MustParse(name string) Chipset {
	c, err := Parse(name)
	if err != nil {
		panic(err)
	}

	return c
}

func (c Chipset) String() string {
	return fmt.Sprintf("gfx%d%x%x", c.Major, c.Minor, c.Stepping)
}

func (c Chipset) IsZero() bool { return c == Chipset{} }

// Version maps the chipset onto a semantic version, stepping as patch:
// gfx90a is 9.0.10.
func (c Chipset) Version() *semver.Version {
	return semver.New(uint64(c.Major), uint64(c.Minor), uint64(c.Stepping), "", "")
}

func (c Chipset) Compare(x Chipset) int {
	switch {
	case c.Major != x.Major:
		return cmp(c.Major, x.Major)
	case c.Minor != x.Minor:
		return cmp(c.Minor, x.Minor)
	default:
		return cmp(c.Stepping, x.Stepping)
	}
}

// WaveSize is the default number of lanes in a wave.
func (c Chipset) WaveSize() int {
	if c.Major >= 10 {
		return 32
	}

	return 64
}

func (c Chipset) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, c.String())
}

func (e InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid chipset format %q: %s", e.Input, e.Reason)
}

func cmp(a, b uint) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
