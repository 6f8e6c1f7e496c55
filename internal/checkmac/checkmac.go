// Package checkmac computes the processor's CheckMacValue signature.
//
// The counterparty recomputes the value independently, so every step here is
// bit-exact: parameter names sorted case-insensitively, bracketed by HashKey and
// HashIV, percent-encoded, lower-cased, a handful of escapes restored, hashed and
// upper-cased.
package checkmac

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
	"strings"
)

// Field is the parameter name that carries the signature.
const Field = "CheckMacValue"

type Profile int

const (
	Payment   Profile = iota // SHA-256
	Logistics                // MD5
)

func (p Profile) String() string {
	if p == Logistics {
		return "md5"
	}
	return "sha256"
}

func (p Profile) newHash() hash.Hash {
	if p == Logistics {
		return md5.New()
	}
	return sha256.New()
}

var restore = strings.NewReplacer(
	"%2d", "-",
	"%5f", "_",
	"%2e", ".",
	"%21", "!",
	"%2a", "*",
	"%28", "(",
	"%29", ")",
	"%20", "+",
)

// Canonicalize returns the string that gets hashed.
func Canonicalize(params map[string]string, key, salt string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		if k == Field {
			continue
		}
		names = append(names, k)
	}
	// Byte order on lower-cased names. It matches a locale-aware compare for
	// the processor's field names, which are ASCII letters, digits and '_'.
	sort.SliceStable(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(key)
	for _, k := range names {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(salt)

	return restore.Replace(strings.ToLower(encodeComponent(b.String())))
}

func Sign(params map[string]string, key, salt string, p Profile) string {
	h := p.newHash()
	h.Write([]byte(Canonicalize(params, key, salt)))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// Verify recomputes the signature over params minus the received one and
// compares the exact strings.
func Verify(params map[string]string, key, salt string, p Profile) bool {
	got, ok := params[Field]
	if !ok || got == "" {
		return false
	}
	return Sign(params, key, salt, p) == got
}

// SignInto signs params and stores the value under Field.
func SignInto(params map[string]string, key, salt string, p Profile) map[string]string {
	params[Field] = Sign(params, key, salt, p)
	return params
}

// Bool and Int stringify business values the way the counterparty does.
func Bool(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func Int(n int64) string { return strconv.FormatInt(n, 10) }

const upperhex = "0123456789ABCDEF"

// encodeComponent percent-encodes everything except A-Z a-z 0-9 and - _ . ! ~ * ' ( ),
// byte by byte over the UTF-8 encoding. Space becomes %20.
func encodeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
