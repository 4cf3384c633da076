// CLAUDE:SUMMARY Run identifier generation: timestamped NanoID (default) or UUIDv7, both safe as directory names.
// Package idgen generates run identifiers. Every id is usable as a
// directory name under <output>/runs/.
//
// The generator is a startup-time choice (config run_ids), so the gate
// never cares which strategy produced an id.
package idgen

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Timestamped returns a Generator that produces IDs in the format
// "20060102T150405Z_<suffix>", reading the time from now.
func Timestamped(now func() time.Time, gen Generator) Generator {
	return func() string {
		return now().UTC().Format("20060102T150405Z") + "_" + gen()
	}
}

// Fixed always returns id. Reproducible runs (and tests) use it so two
// runs over the same inputs write byte-identical trees.
func Fixed(id string) Generator {
	return func() string { return id }
}

// ForStyle returns the run id generator named by style: "timestamped"
// (default) or "uuid".
func ForStyle(style string, now func() time.Time) (Generator, error) {
	switch style {
	case "", "timestamped":
		return Timestamped(now, NanoID(8)), nil
	case "uuid":
		return UUIDv7(), nil
	}
	return nil, fmt.Errorf("idgen: unknown run id style %q", style)
}
