// Package dedup derives the natural key that identifies one logical notice.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/textutil"
)

const noNumber = "s/n"

// Key returns the hex SHA-256 natural key of a candidate.
//
// With a tender number the key covers source, number and object text. When
// the number is the sentinel, the publication day and detail URL join the
// key so unrelated unnumbered notices with the same object do not merge,
// while re-scraping the same page still maps to the same row.
func Key(c domain.CandidateRecord) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(c.SourceCode)),
	}

	object := ""
	if !domain.IsNotInformed(c.Object) {
		object = textutil.Fold(c.Object)
	}

	if c.HasTenderNumber() {
		parts = append(parts, normalizeNumber(c.TenderNumber), object)
	} else {
		day := "-"
		if c.PublicationDate != nil {
			day = c.PublicationDate.Format("2006-01-02")
		}
		parts = append(parts, noNumber, object, day, strings.TrimSpace(c.DetailURL))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// normalizeNumber removes spacing differences such as "012 / 2024".
func normalizeNumber(n string) string {
	return strings.ReplaceAll(textutil.Fold(n), " ", "")
}
