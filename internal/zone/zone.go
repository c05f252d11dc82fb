// Package zone parses plant-hardiness zone codes ("7b") and compares them by
// ordinal. It performs no I/O.
package zone

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var ErrInvalidZoneCode = errors.New("invalid zone code")

var (
	codePattern = regexp.MustCompile(`^(1[0-3]|[1-9])([ab])$`)
	zipPattern  = regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`)
)

// Code is a validated zone code.
type Code struct {
	Number int
	Half   byte
}

func (c Code) String() string {
	return strconv.Itoa(c.Number) + string(c.Half)
}

// Ordinal maps the code onto 2*number + (b ? 1 : 0).
func (c Code) Ordinal() int {
	o := 2 * c.Number
	if c.Half == 'b' {
		o++
	}
	return o
}

func Parse(s string) (Code, error) {
	m := codePattern.FindStringSubmatch(s)
	if m == nil {
		return Code{}, fmt.Errorf("%w: %q", ErrInvalidZoneCode, s)
	}
	n, _ := strconv.Atoi(m[1])
	return Code{Number: n, Half: m[2][0]}, nil
}

func Ordinal(s string) (int, error) {
	c, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return c.Ordinal(), nil
}

// IsInRange reports whether z lies in the closed interval [min, max].
func IsInRange(z, min, max string) (bool, error) {
	zo, err := Ordinal(z)
	if err != nil {
		return false, err
	}
	lo, err := Ordinal(min)
	if err != nil {
		return false, err
	}
	hi, err := Ordinal(max)
	if err != nil {
		return false, err
	}
	return lo <= zo && zo <= hi, nil
}

// All returns every valid code in ordinal order, 1a through 13b.
func All() []string {
	out := make([]string, 0, 26)
	for n := 1; n <= 13; n++ {
		out = append(out, strconv.Itoa(n)+"a", strconv.Itoa(n)+"b")
	}
	return out
}

// Location is what a client submits to identify where the yard is. Either the
// ZIP code or the full coordinate set (latitude, longitude, name) is given.
type Location struct {
	ZipCode   string   `json:"zipCode,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// ValidZipCode accepts a five-digit US ZIP code, optionally in ZIP+4 form.
func ValidZipCode(s string) bool {
	return zipPattern.MatchString(s)
}

type Resolution struct {
	Code        string
	Description string
}

// Resolver maps a location to a zone. A nil resolution with a nil error means
// the location is unknown.
type Resolver interface {
	Resolve(ctx context.Context, loc Location) (*Resolution, error)
}
