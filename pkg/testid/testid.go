// Package testid generates and validates test identifiers.
//
// An identifier looks like "20240131_f3a9c0d1e2b34455a6b7": a UTC date
// stamp and 20 hex characters of cryptographically strong randomness.
// There is no authentication layer in front of test results, so the
// random suffix doubles as an unguessable access capability; do not
// weaken the randomness source or shorten the suffix.
package testid

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// randBytes is the number of random bytes in an identifier suffix
// (20 hex characters).
const randBytes = 10

var validID = regexp.MustCompile(`^\w+$`)

// Valid reports whether id consists only of word characters. Anything
// else is rejected before the id is ever used as a path segment.
func Valid(id string) bool {
	return validID.MatchString(id)
}

// Path converts an identifier into its storage key relative to the
// results root. Pure string transformation, no I/O: every underscore
// becomes a path separator, so "20240131_f3a9..." maps to
// "20240131/f3a9...".
func Path(id string) string {
	return strings.ReplaceAll(id, "_", "/")
}

// Generator allocates identifiers whose storage paths are not yet in
// use under the results root.
type Generator struct {
	resultsDir string
}

// NewGenerator creates a Generator for the given results root.
func NewGenerator(resultsDir string) *Generator {
	return &Generator{resultsDir: resultsDir}
}

// Generate returns a fresh identifier. It loops until the derived
// storage path does not exist; with 80 random bits a collision is
// astronomically rare, but the loop is the contract, not an
// optimization.
func (g *Generator) Generate() string {
	for {
		id := time.Now().UTC().Format("20060102") + "_" + randomHex()

		if _, err := os.Stat(
			filepath.Join(g.resultsDir, Path(id)),
		); os.IsNotExist(err) {
			return id
		}
	}
}

func randomHex() string {
	buf := make([]byte, randBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is
		// broken; ids must never fall back to something guessable.
		panic("testid: reading random bytes: " + err.Error())
	}

	return hex.EncodeToString(buf)
}
