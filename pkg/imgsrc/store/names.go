package store

import (
	"encoding/hex"
	"strings"

	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
)

var digestLengths = map[signature.Algorithm]int{
	signature.SHA1:   40,
	signature.SHA256: 64,
	signature.BLAKE3: 64,
}

// ParseObjectName reverses Algorithm.ObjectName. ok is false for names the
// store did not produce.
func ParseObjectName(name string) (algo signature.Algorithm, digest, ext string, ok bool) {
	stem, ext, found := strings.Cut(name, ".")
	if !found || ext == "" || strings.Contains(ext, ".") {
		return "", "", "", false
	}

	algo = signature.SHA1
	if prefix, rest, tagged := strings.Cut(stem, "-"); tagged {
		algo, digest = signature.Algorithm(prefix), rest
	} else {
		digest = stem
	}

	want, known := digestLengths[algo]
	if !known || len(digest) != want || digest != strings.ToLower(digest) {
		return "", "", "", false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", "", false
	}
	return algo, digest, ext, true
}

// IsStagingName reports whether name is an in-flight staging file.
func IsStagingName(name string) bool {
	return strings.HasPrefix(name, stagingPrefix)
}
